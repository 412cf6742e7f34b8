package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EncodeTXT creates TXT records for a backbone.
func EncodeTXT(info *BackboneInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyReq: strconv.Itoa(int(info.ReqPort)),
		TXTKeyPub: strconv.Itoa(int(info.PubPort)),
		TXTKeySub: strconv.Itoa(int(info.SubPort)),
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// DecodeTXT parses backbone TXT records into info. Instance is left empty.
func DecodeTXT(txt TXTRecordMap) (*BackboneInfo, error) {
	info := &BackboneInfo{Version: txt[TXTKeyVersion]}

	ports := []struct {
		key string
		dst *uint16
	}{
		{TXTKeyReq, &info.ReqPort},
		{TXTKeyPub, &info.PubPort},
		{TXTKeySub, &info.SubPort},
	}
	for _, p := range ports {
		v, ok := txt[p.key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequired, p.key)
		}
		n, err := parsePort(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, p.key, v)
		}
		*p.dst = n
	}
	return info, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("port 0")
	}
	return uint16(n), nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
// A bare key maps to the empty string.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			v = ""
		}
		txt[k] = v
	}
	return txt
}
