package pairing

import "slices"

// InsertMember places id at position 1 of the circle, or at the front of an
// empty circle. A member already present leaves the circle unchanged.
func InsertMember(circle []string, id string) []string {
	if slices.Contains(circle, id) {
		return circle
	}
	if len(circle) == 0 {
		return []string{id}
	}
	out := make([]string, 0, len(circle)+1)
	out = append(out, circle[0], id)
	return append(out, circle[1:]...)
}

// RemoveMember deletes id from the circle and applies one round-robin step to
// the remainder: the first element stays fixed and the last moves to position 1.
// With an odd remainder a random member sits out the rotation and is put back at
// position 1 afterwards. Removing an absent member is a no-op.
func RemoveMember(circle []string, id string, r Source) []string {
	idx := slices.Index(circle, id)
	if idx < 0 {
		return circle
	}
	rest := slices.Delete(slices.Clone(circle), idx, idx+1)

	var aside string
	hasAside := false
	if len(rest)%2 == 1 {
		k := r.Intn(len(rest))
		aside, hasAside = rest[k], true
		rest = slices.Delete(rest, k, k+1)
	}

	rotated := Rotate(rest)
	if hasAside {
		if len(rotated) == 0 {
			return []string{aside}
		}
		rotated = slices.Insert(rotated, 1, aside)
	}
	return rotated
}

// Rotate returns [m0, m(n-1), m1, ..., m(n-2)]. Circles shorter than three are
// returned as a copy.
func Rotate(m []string) []string {
	n := len(m)
	if n < 3 {
		return slices.Clone(m)
	}
	out := make([]string, 0, n)
	out = append(out, m[0], m[n-1])
	return append(out, m[1:n-1]...)
}
