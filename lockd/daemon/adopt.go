package daemon

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sailfishos-mirror/lvm2-sub002/internal/lvmerr"
	"github.com/sailfishos-mirror/lvm2-sub002/lockd/wire"
)

// AdoptEntry records one resource's lock state for restart-time adoption
// (LD_AF_ADOPT / LD_AF_ADOPT_ONLY, spec §6): a daemon that restarts while
// its locks are still held on the cluster backend needs this to rebuild its
// in-memory resource table without re-deriving state from the backend.
type AdoptEntry struct {
	VGName   string `yaml:"vg_name"`
	VGUUID   string `yaml:"vg_uuid"`
	LockType string `yaml:"lock_type"`
	GLOwner  bool   `yaml:"gl_owner,omitempty"`

	Resources []AdoptResource `yaml:"resources,omitempty"`
}

// AdoptResource is one resource's mode/version at the time the adopt table
// was last written.
type AdoptResource struct {
	Name    string        `yaml:"name"`
	Type    wire.ResourceType `yaml:"type"`
	Mode    wire.LockMode `yaml:"mode"`
	Version uint32        `yaml:"version"`
}

// AdoptTable is the full persisted set of lockspaces a daemon instance
// needs to restore on restart, keyed by VG name.
type AdoptTable struct {
	Lockspaces map[string]AdoptEntry `yaml:"lockspaces"`
}

// SaveAdoptTable writes the daemon's current lockspace/resource state to
// path (conventionally /run/lvm/lvmlockd.adopt), so a restart can adopt
// orphaned locks instead of losing track of them. Grounded on the adopt_mode
// field and LD_AF_ADOPT/LD_AF_ADOPT_ONLY flags in the original daemon's
// internal header; the original persists this information in its own
// process memory across a controlled restart, this core writes it to disk
// since nothing here survives a process exit otherwise.
func (d *Daemon) SaveAdoptTable(_ context.Context, path string) error {
	d.mu.Lock()
	table := AdoptTable{Lockspaces: make(map[string]AdoptEntry, len(d.lockspaces))}
	for vgName, ls := range d.lockspaces {
		entry := AdoptEntry{
			VGName:   ls.VGName,
			VGUUID:   ls.VGUUID,
			LockType: ls.Backend.Name(),
			GLOwner:  d.glOwner == vgName,
		}
		ls.resources.mu.Lock()
		for name, r := range ls.resources.resources {
			entry.Resources = append(entry.Resources, AdoptResource{
				Name:    name,
				Type:    r.Type,
				Mode:    r.Mode(),
				Version: r.Version(),
			})
		}
		ls.resources.mu.Unlock()
		table.Lockspaces[vgName] = entry
	}
	d.mu.Unlock()

	data, err := yaml.Marshal(table)
	if err != nil {
		return lvmerr.Wrap(lvmerr.ErrLockd.Tag, lvmerr.KindIO, "encoding adopt table", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return lvmerr.Wrap(lvmerr.ErrLockd.Tag, lvmerr.KindIO, "writing adopt table", err)
	}
	return nil
}

// LoadAdoptTable reads a previously-saved adopt table from path. A missing
// file is not an error: the daemon simply starts with no lockspaces to
// adopt, the normal case on a first boot.
func LoadAdoptTable(path string) (*AdoptTable, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &AdoptTable{Lockspaces: map[string]AdoptEntry{}}, nil
	}
	if err != nil {
		return nil, lvmerr.Wrap(lvmerr.ErrLockd.Tag, lvmerr.KindIO, "reading adopt table", err)
	}
	var table AdoptTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, lvmerr.Wrap(lvmerr.ErrLockd.Tag, lvmerr.KindIO, "decoding adopt table", err)
	}
	if table.Lockspaces == nil {
		table.Lockspaces = map[string]AdoptEntry{}
	}
	return &table, nil
}

// Adopt rebuilds lockspaces and resource state from a previously-saved
// table, joining each lockspace's backend fresh (the backend itself is not
// persisted; only the daemon's view of lock state is) and restoring each
// resource's mode/version/GL ownership exactly as saved.
func (d *Daemon) Adopt(ctx context.Context, table *AdoptTable) error {
	for vgName, entry := range table.Lockspaces {
		if err := d.StartVG(vgName, entry.VGUUID, entry.LockType, entry.GLOwner); err != nil {
			return lvmerr.Wrap(lvmerr.ErrLockd.Tag, lvmerr.KindBackend, "adopting lockspace "+vgName, err)
		}
		d.mu.Lock()
		ls := d.lockspaces[vgName]
		d.mu.Unlock()
		for _, re := range entry.Resources {
			r := ls.resources.Get(re.Name, re.Type)
			r.adopt(re.Mode, re.Version)
		}
	}
	return nil
}
