// Package ctl implements tgfleet-ctl, the operator console of the engine.
//
// It is a small REPL over the control API: operators submit and inspect
// tasks, enroll accounts and walk them through interactive login, manage
// the proxy pool and request backups. Login challenges (code, second-factor
// password) are prompted for here and submitted step by step, so the
// engine never blocks waiting for a human.
package ctl
