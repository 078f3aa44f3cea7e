// Package reconcile diffs the local inventory against the remote service's
// two declared views and turns the differences into a transfer.Plan.
package reconcile

import (
	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/remote"
	"github.com/italolelis/puttr/internal/transfer"
)

// Plan is a pure function of its inputs. For files known to both sides a
// delete flag wins over a tag change; cloud files missing locally become
// downloads; local-only files are left alone.
func Plan(local inventory.Inventory, localView map[string]remote.LocalEntry, cloud []remote.CloudEntry) transfer.Plan {
	var p transfer.Plan

	for filename, rec := range local {
		want, ok := localView[filename]
		if !ok {
			continue
		}

		switch {
		case want.Delete:
			p.Deletes = append(p.Deletes, transfer.Delete{Filename: filename, Tag: rec.Tag})
		case want.Tag != rec.Tag:
			p.Moves = append(p.Moves, transfer.Move{Filename: filename, FromTag: rec.Tag, ToTag: want.Tag})
		}
	}

	offered := make(map[string]struct{}, len(cloud))

	for _, c := range cloud {
		if _, ok := local[c.Filename]; ok {
			continue
		}

		if _, dup := offered[c.Filename]; dup {
			continue
		}

		offered[c.Filename] = struct{}{}

		p.Downloads = append(p.Downloads, transfer.Download{
			RemoteID: c.RemoteID,
			Filename: c.Filename,
			Tag:      c.Tag,
			Checksum: c.Checksum,
		})
	}

	p.Sort()

	return p
}
