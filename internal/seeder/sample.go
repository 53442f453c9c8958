package seeder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aethra/lowcode/internal/meta"
)

// SampleRows synthesises n deterministic rows for fields: sequential
// placeholders for text, the index for numbers, index parity for booleans
// and today's date for dates. Primary keys and foreign keys are left to
// the database.
func SampleRows(fields []meta.Field, n int, today time.Time) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, n)
	for i := 1; i <= n; i++ {
		row := map[string]interface{}{}
		for _, f := range fields {
			if f.PrimaryKey || f.AutoIncrement || f.References != nil || isForeignKey(f) {
				continue
			}
			if v, ok := sampleValue(f, i, today); ok {
				row[f.Name] = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func isForeignKey(f meta.Field) bool {
	return strings.HasSuffix(strings.ToLower(f.Name), "_id") &&
		(f.Type == meta.TypeInteger || f.Type == meta.TypeBigInt || f.Type == meta.TypeUUID)
}

func sampleValue(f meta.Field, i int, today time.Time) (interface{}, bool) {
	switch f.Type {
	case meta.TypeString, meta.TypeText:
		return fmt.Sprintf("%s %d", meta.Capitalize(f.Name), i), true
	case meta.TypeInteger, meta.TypeBigInt:
		return i, true
	case meta.TypeFloat, meta.TypeDouble, meta.TypeDecimal:
		return float64(i) * 10, true
	case meta.TypeBoolean:
		return i%2 == 1, true
	case meta.TypeDate, meta.TypeDateOnly:
		return today.Format("2006-01-02"), true
	case meta.TypeTime:
		return "12:00:00", true
	case meta.TypeEnum:
		values := f.Values
		if len(values) == 0 {
			values = meta.DefaultEnumValues(f.Name)
		}
		return values[(i-1)%len(values)], true
	case meta.TypeUUID:
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", f.Name, i))).String(), true
	case meta.TypeJSON, meta.TypeJSONB:
		return map[string]interface{}{"sample": i}, true
	}
	return nil, false
}
