package reflect

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDriver is the database/sql driver name registered by OpenSQLite. It
// is go-sqlite3 with the scalar functions rewritten plans call and SQLite
// lacks.
const SQLiteDriver = "sqlite3_qrlew"

var registerOnce sync.Once

func registerSQLite() {
	registerOnce.Do(func() {
		sql.Register(SQLiteDriver, &sqlite3.SQLiteDriver{ConnectHook: connectHook})
	})
}

func connectHook(conn *sqlite3.SQLiteConn) error {
	funcs := []struct {
		name string
		impl interface{}
		pure bool
	}{
		{"md5", md5Hex, true},
		{"ln", math.Log, true},
		{"log", math.Log10, true},
		{"log10", math.Log10, true},
		{"exp", math.Exp, true},
		{"sqrt", math.Sqrt, true},
		{"power", math.Pow, true},
		{"cos", math.Cos, true},
		{"floor", math.Floor, true},
		{"ceil", math.Ceil, true},
		{"pi", func() float64 { return math.Pi }, true},
	}
	for _, f := range funcs {
		if err := conn.RegisterFunc(f.name, f.impl, f.pure); err != nil {
			return err
		}
	}
	return nil
}

// md5Hex is MD5 as PostgreSQL spells it: lowercase hex, NULL in, NULL out.
func md5Hex(v interface{}) interface{} {
	var b []byte
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if x == nil {
			return nil
		}
		b = x
	case string:
		b = []byte(x)
	default:
		b = []byte(fmt.Sprint(x))
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// OpenSQLite opens a SQLite database able to run SQL rendered for the
// SQLite dialect.
func OpenSQLite(dsn string) (*sql.DB, error) {
	registerSQLite()
	return sql.Open(SQLiteDriver, dsn)
}
