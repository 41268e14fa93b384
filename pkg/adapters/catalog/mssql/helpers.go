package mssql

import (
	"errors"
	"strings"

	mssqldriver "github.com/microsoft/go-mssqldb"

	"github.com/dota-labs/dota-engine/pkg/models"
)

// SQL Server error numbers that indicate missing metadata permissions.
// 229 = object permission denied, 297 = user lacks permission, 300 = grant
// missing on the securable.
var permissionErrorNumbers = map[int32]struct{}{
	229: {},
	297: {},
	300: {},
}

func isPermissionError(err error) bool {
	var driverErr mssqldriver.Error
	if errors.As(err, &driverErr) {
		if _, ok := permissionErrorNumbers[driverErr.Number]; ok {
			return true
		}
	}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "permission") {
		return true
	}
	return false
}

// normalizeObjectType maps sys.objects type codes to graph node kinds.
// Unrecognized codes fall back to table, the safest terminal kind.
func normalizeObjectType(typeCode string) string {
	switch strings.TrimSpace(typeCode) {
	case "P", "PC", "X":
		return models.NodeProcedure
	case "TR", "TA":
		return models.NodeTrigger
	case "V":
		return models.NodeView
	case "FN", "IF", "TF", "FS", "FT", "AF":
		return models.NodeFunction
	case "U":
		return models.NodeTable
	default:
		return models.NodeTable
	}
}

// quoteName brackets an identifier for safe interpolation where parameters
// cannot be used. Closing brackets inside the name are doubled per QUOTENAME
// semantics.
func quoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// parseSchemaTable splits an optionally schema-qualified name, stripping
// brackets. A bare name returns an empty schema.
func parseSchemaTable(input string) (schema, table string) {
	cleaned := strings.NewReplacer("[", "", "]", "").Replace(strings.TrimSpace(input))
	if i := strings.LastIndex(cleaned, "."); i >= 0 {
		return strings.TrimSpace(cleaned[:i]), strings.TrimSpace(cleaned[i+1:])
	}
	return "", cleaned
}
