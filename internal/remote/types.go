package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/italolelis/puttr/internal/transfer"
)

// CloudEntry is a file the remote service offers for download.
type CloudEntry struct {
	Filename string
	Tag      string
	Checksum string
	RemoteID string
}

// LocalEntry is the remote service's declaration of what the client's copy of
// Filename should look like.
type LocalEntry struct {
	Filename string
	Tag      string
	Delete   bool
}

// Inventories holds both views returned by a single fetch.
type Inventories struct {
	Cloud []CloudEntry
	Local map[string]LocalEntry
}

type syncResponse struct {
	Cloud map[string]cloudEntryJSON `json:"cloud"`
	Local map[string]localEntryJSON `json:"local"`
}

type cloudEntryJSON struct {
	Filename string     `json:"filename"`
	Tag      string     `json:"tag"`
	CRC32    flexString `json:"crc32"`
	Checksum flexString `json:"checksum"`
	PutioID  flexString `json:"putio_id"`
	RemoteID flexString `json:"remote_id"`
}

type localEntryJSON struct {
	Tag        string   `json:"tag"`
	DeleteFile flexBool `json:"delete_file"`
	DeleteFlag flexBool `json:"delete_flag"`
}

type downloadURLResponse struct {
	URL string `json:"url"`
}

// toInventories normalizes the wire payload. The map key is the filename of
// record; empty tags mean untagged.
func (r syncResponse) toInventories() *Inventories {
	inv := &Inventories{
		Cloud: make([]CloudEntry, 0, len(r.Cloud)),
		Local: make(map[string]LocalEntry, len(r.Local)),
	}

	for name, c := range r.Cloud {
		filename := name
		if filename == "" {
			filename = c.Filename
		}

		if filename == "" {
			continue
		}

		inv.Cloud = append(inv.Cloud, CloudEntry{
			Filename: filename,
			Tag:      normalizeTag(c.Tag),
			Checksum: firstNonEmpty(string(c.CRC32), string(c.Checksum)),
			RemoteID: firstNonEmpty(string(c.PutioID), string(c.RemoteID)),
		})
	}

	sort.Slice(inv.Cloud, func(i, j int) bool { return inv.Cloud[i].Filename < inv.Cloud[j].Filename })

	for name, l := range r.Local {
		if name == "" {
			continue
		}

		inv.Local[name] = LocalEntry{
			Filename: name,
			Tag:      normalizeTag(l.Tag),
			Delete:   bool(l.DeleteFile) || bool(l.DeleteFlag),
		}
	}

	return inv
}

func normalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return transfer.UntaggedTag
	}

	return tag
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		*s = ""

		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		*s = flexString(v)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}

	*s = flexString(n.String())

	return nil
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)

	switch strings.ToLower(raw) {
	case "", "null", "false", "0":
		*b = false

		return nil
	case "true":
		*b = true

		return nil
	}

	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("expected boolean flag, got %s", data)
	}

	*b = n != 0

	return nil
}
