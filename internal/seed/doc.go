// Package seed realises a fixture dataset in a live LMS.
//
// # Stage Order
//
// Orchestrator.Run drives the stages strictly in this order; each one keys
// off canonical ids established by the ones before it:
//
//  1. bootstrap-identity: remap the pre-provisioned user to its canonical id
//  2. bootstrap-token: log the bootstrap principal in and mint a token
//  3. users: create an account and a user per principal, remap the user
//  4. tokens: mint a token for every other principal
//  5. courses: create each course, remap it
//  6. enrollments: enroll principals (no remap)
//  7. assignments: create each assignment, remap it
//  8. submissions: post each grade, then correct timestamps and id
//  9. groups: create group sets, groups and memberships, remapping sets
//     and groups
//  10. credentials: overwrite every minted token with its canonical value
//
// # Consistency
//
// Everything runs on one goroutine. The LMS client sleeps after each write
// because the server can acknowledge a write before the next call can see
// it, and the submission correction targets the most recently updated row
// of an (assignment, user) pair. Both rely on there being exactly one
// writer. A failure at any stage aborts the run and leaves the store
// partially seeded; reset it before trying again.
//
// # Verification
//
// Verifier queries the store after a run and reports, per entity, whether
// the canonical id (and canonical token) is in place.
package seed
