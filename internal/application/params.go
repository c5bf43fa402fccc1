package application

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"vera-home/internal/domain"
)

type params map[string]any

func (p params) number(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func (p params) integer(key string) (int, bool) {
	f, ok := p.number(key)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func (p params) text(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// describe renders a one-line status for get_status.
func describe(snap domain.DeviceSnapshot) string {
	keys := make([]string, 0, len(snap.Attributes))
	for k := range snap.Attributes {
		switch k {
		case "name", "id", "category", "subcategory", "room", "parent", "altid":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+snap.Attributes[k])
	}
	return fmt.Sprintf("%s (%s): %s", snap.Name, snap.Category, strings.Join(parts, ", "))
}
