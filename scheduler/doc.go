// Package scheduler drives automatic certificate renewal for a set of
// managed domains.
//
// A single loop wakes periodically, evaluates every domain against its
// renewal policy, and dispatches due domains to a bounded worker pool. Each
// attempt runs the full pipeline: acquire material through the domain's
// strategy, publish it to the bundle store, apply consumer permissions, and
// record the change notification. Failures back off exponentially per
// domain up to a retry budget; exhausting the budget drops the domain to a
// daily retry with an operator alarm. Configuration-class failures park the
// domain entirely until its configuration changes.
//
// Self-signed domains are the one policy exception: they are never renewed
// by the loop. Their material only changes through an explicit manual
// trigger.
//
// At most one attempt runs per domain at any time. A trigger arriving while
// an attempt is in flight is rejected with ErrRenewalInProgress, never
// queued. On shutdown the acquisition phase of in-flight attempts is
// cancelled, while the publication phase always runs to completion so a
// store swap is never interrupted.
package scheduler
