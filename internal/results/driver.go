package results

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/mattn/go-sqlite3"
)

var (
	driversMu sync.Mutex
	drivers   = make(map[string]string) // extension path -> registered driver name
)

// driverName returns a database/sql driver whose connections provide a median
// aggregate. With an extension path the aggregate comes from the loadable
// extension, otherwise the built-in aggregate is registered on connect.
// sql.Register panics on duplicates, so each distinct path registers once.
func driverName(extensionPath string) string {
	driversMu.Lock()
	defer driversMu.Unlock()

	if name, ok := drivers[extensionPath]; ok {
		return name
	}

	name := fmt.Sprintf("sqlite3_autosteer_%d", len(drivers))
	drv := &sqlite3.SQLiteDriver{}
	if extensionPath != "" {
		drv.Extensions = []string{extensionPath}
	} else {
		drv.ConnectHook = func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterAggregator("median", newMedianAggregator, true)
		}
	}
	sql.Register(name, drv)
	drivers[extensionPath] = name
	return name
}

// medianAggregator implements median(X) as a SQLite aggregate.
// NULL and non-numeric inputs are skipped; an empty group yields NULL.
type medianAggregator struct {
	values []float64
}

func newMedianAggregator() *medianAggregator {
	return &medianAggregator{}
}

func (m *medianAggregator) Step(v interface{}) {
	switch x := v.(type) {
	case int64:
		m.values = append(m.values, float64(x))
	case float64:
		m.values = append(m.values, x)
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			m.values = append(m.values, f)
		}
	case []byte:
		if f, err := strconv.ParseFloat(string(x), 64); err == nil {
			m.values = append(m.values, f)
		}
	}
}

func (m *medianAggregator) Done() interface{} {
	if len(m.values) == 0 {
		return nil
	}
	return median(m.values)
}

// median returns the middle value of values, or the mean of the two middle
// values for an even count. values is sorted in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
