package whmcs

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexInt decodes WHMCS numeric fields, which arrive as numbers or strings
// depending on the WHMCS version.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		// tolerate float-ish values like "12.0"
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		n = int(fl)
	}
	*f = flexInt(n)
	return nil
}

// firstProductID extracts the first service id from the AddOrder productids
// field, which WHMCS returns as a number, a comma-joined string, or an array.
func firstProductID(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var asArray []flexInt
	if err := json.Unmarshal(raw, &asArray); err == nil {
		if len(asArray) == 0 {
			return 0
		}
		return int(asArray[0])
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		first := strings.Split(asString, ",")[0]
		n, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return 0
		}
		return n
	}

	var asNumber flexInt
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return int(asNumber)
	}
	return 0
}
