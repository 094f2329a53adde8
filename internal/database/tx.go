package database

import "github.com/jmoiron/sqlx"

// withTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (db *DB) withTransaction(fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}
