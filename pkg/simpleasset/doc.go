// Package simpleasset manages media assets whose bytes live in a blob store
// and whose metadata lives in a separate catalog.
//
// The two stores share no transaction. Uploads write bytes first and the
// catalog record second; deletes always attempt both halves. Any resulting
// inconsistency is reported rather than hidden: a TaskResult failed at the
// catalog stage names an orphaned blob by its storage path, and a
// DeleteResult names the remnant a partial delete left behind. The reconcile
// subpackage sweeps for both kinds.
//
// Entity galleries are modelled by AttachmentSet, which holds at most
// MaxSlots images with exactly one cover. Usage tags on each Asset drive
// orphan detection through Classify and ComputeStats.
//
// Implementations of the catalog (memory, Postgres) and blob stores (memory,
// filesystem, S3) are provided under subpackages.
package simpleasset
