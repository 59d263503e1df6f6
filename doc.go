// Package sqlbulk moves large sets of rows between Go values and a
// relational store in a constant number of round trips per batch.
//
// Creates stream entities straight into their table. Selects, updates and
// deletes go through a staging table: the caller's match objects are
// bulk-copied into a temporary table and the destination is joined against
// it, so one statement handles a whole batch regardless of its size.
//
// STAGING PROTOCOL:
//
// Per call:
//  1. Pin one connection (staging tables are connection scoped)
//  2. CREATE TEMPORARY TABLE bulk_<op>_<uuidv7> with the correlated match columns
//  3. For each batch of Options.BatchSize match objects:
//     copy the batch in, run the statement, clear the table
//  4. Drop the table, even if the caller's context was cancelled
//
// A batch that fails with a deadlock, serialization failure or SQLite busy
// error is retried after clearing the staging table, up to
// Options.MaxAttempts attempts in total.
//
// CORRELATION:
//
// Match objects are plain structs. A match field correlates with the entity
// property of the same name, or with the property mapped to a column of that
// name (case-insensitive). Fields without a counterpart are ignored.
// Selects and deletes join on every correlated field; updates join on the
// primary key and assign every other correlated field.
//
// Usage:
//
//	r, err := sqlbulk.New(db, dialect.SQLite())
//	if err != nil {
//		return err
//	}
//
//	type genderChange struct {
//		Id     uuid.UUID
//		Gender string
//	}
//	err = sqlbulk.BulkUpdate[familytree.FamilyTree](ctx, r, changes)
//
//	trees, err := sqlbulk.BulkSelect[familytree.FamilyTree](ctx, r, keys, &sqlbulk.Filter{
//		Where:   sqlbulk.Eq("IsAlive", true),
//		Include: []string{"Father", "Siblings.PrimarySibling"},
//		OrderBy: []sqlbulk.Order{sqlbulk.Desc("Birthdate")},
//	})
//
// Failures are returned as *Error, categorized by Code.
package sqlbulk
