// Package pass implements the periodic entry points of the bot: the weekly
// pairing pass, the forced pairing of one channel, the intro resend pass, the
// midpoint reminder pass and the membership sync pass.
//
// Every pass is idempotent. Channels and batches are processed sequentially,
// each under a lease on "channel:<id>" or "batch:<id>", and a failure in one
// unit is recorded in the Summary without stopping the others. A pass returns
// an error only when it cannot enumerate its work or its context ends.
package pass
