// Package state defines persistence-facing contracts for annotated Markdown
// documents, plus a small repository that round-trips them through the
// annotation codec.
//
// Responsibilities:
//   - Store only loads/saves/deletes the raw text of a single Ref.
//   - Repository parses what a Store returns into annotate.Document values,
//     serializes mutations back, and enforces optimistic concurrency.
//   - The annotate package remains persistence-agnostic; all persistence
//     logic stays behind Store implementations supplied by consumers.
//
// Data flow:
//
//	Store -> Repository.Open -> annotate.Parse -> annotate.Document
//	annotate.Document -> Repository.Mutate -> annotate.Serialize -> Store
//
// Concurrency:
//
//	Meta.ETag is the sha256 of the stored text. Callers pass the ETag they
//	read back into Mutate or Put; a mismatch fails with ErrETagMismatch and
//	nothing is written.
package state
