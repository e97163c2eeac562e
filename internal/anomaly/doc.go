// Package anomaly implements the advisory behavioral detector: four
// independent heuristics (unseen country, rare login hour, unseen device,
// impossible travel) evaluated against a subject's recent session history,
// plus the asynchronous pipeline that keeps the historical scan off the
// authentication request path.
//
// # What this package must NOT do
//
//   - Reject, block, or terminate anything. Findings are advisory.
//   - Propagate errors to the triggering operation; failures are counted
//     and swallowed.
//   - Import authcore or any sibling package.
package anomaly
