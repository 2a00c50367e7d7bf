/*
Package rowstore implements typed, ordered in-memory row models with term
indexes that stay consistent with the model as it changes.

We implement:

1. Models, ordered collections of rows sharing a fixed schema of typed fields.

2. Key extractors, turning a row into zero or more string keys, usually by
reading a column and running the text through an analyzer.

3. Indexes, answering exact, prefix and range queries by key. TreeIndex keeps
keys in a B-tree; HashIndex keeps them in a map.

4. A change bus, notifying subscribers (indexes included) synchronously after
every mutation.

5. Filter models, read-only models that follow a source model through its
bus and hold the rows a Filter accepts, in source or sorted order.

# Technical Details

**Row identity.**
Each row gets a RowID from a per-model counter starting at 1. IDs are never
reused, so a stale ID can never refer to a newer row. RowID order is creation
order, and indexes break ties between rows with equal keys by RowID.

**Keys.**
Keys are strings compared byte-wise. Analyzers normalize text before emitting
terms, so byte order of terms is the index order. A prefix query for p is the
half-open range [p, succ(p)), where succ(p) drops trailing 0xFF bytes and
increments the last remaining byte.

**Reverse map.**
Indexes remember the keys they stored for every row. Removing a row never
re-runs the extractor; updating a row re-runs it and applies only the
difference between the old and new key sets.

**Threading.**
Models and their indexes are not goroutine-safe. Notifications are delivered
synchronously on the mutating goroutine, and subscribers may read the model
and query indexes while handling one, but must not mutate the model.
*/
package rowstore
