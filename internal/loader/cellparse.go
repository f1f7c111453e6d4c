package loader

import (
	"math"
	"strconv"
	"time"

	"github.com/vaultgraph/vgdb/internal/catalog"
)

// encodeFixedWidth parses one raw CSV cell into its property's fixed-width
// on-disk encoding. STRING and VAR_LIST are not handled here — they go
// through the overflow/inline descriptor path in node_copier.go/
// rel_copier.go instead.
func encodeFixedWidth(lt catalog.LogicalType, raw string) ([]byte, error) {
	switch lt {
	case catalog.TypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case catalog.TypeInt16:
		v, err := strconv.ParseInt(raw, 10, 16)
		if err != nil {
			return nil, err
		}
		return le(uint64(uint16(v)), 2), nil
	case catalog.TypeInt32:
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, err
		}
		return le(uint64(uint32(v)), 4), nil
	case catalog.TypeInt64, catalog.TypeInternalID, catalog.TypeSerial:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return le(uint64(v), 8), nil
	case catalog.TypeFloat:
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, err
		}
		return le(uint64(math.Float32bits(float32(v))), 4), nil
	case catalog.TypeDouble:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return le(math.Float64bits(v), 8), nil
	case catalog.TypeDate:
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
		days := int32(t.Unix() / 86400)
		return le(uint64(uint32(days)), 4), nil
	case catalog.TypeTimestamp:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			t, err = time.Parse("2006-01-02 15:04:05", raw)
			if err != nil {
				return nil, err
			}
		}
		return le(uint64(t.UnixMicro()), 8), nil
	case catalog.TypeInterval:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		return le(uint64(d.Microseconds()), 8), nil
	default:
		return nil, errUnsupportedFixedWidthType(lt)
	}
}

func errUnsupportedFixedWidthType(lt catalog.LogicalType) error {
	return errUnsupportedType{lt}
}

type errUnsupportedType struct{ lt catalog.LogicalType }

func (e errUnsupportedType) Error() string {
	return "loader: unsupported fixed-width type " + e.lt.String()
}

func isVariableWidth(lt catalog.LogicalType) bool {
	return lt == catalog.TypeString || lt == catalog.TypeVarList
}

func le(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
