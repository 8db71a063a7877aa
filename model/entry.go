package model

// RemoteEntry is one downloadable file advertised by the archive.
type RemoteEntry struct {
	Name           string  // assembly name, used as the canonical merge order
	RemotePath     string  // path relative to the archive host, e.g. genomes/all/GCF/...
	ExpectedSize   *uint64 // nil when the manifest does not publish sizes
	ExpectedDigest string  // empty when the checksum listing has no line for the file
	TaxID          string
	Organism       string
}

// Verifiable reports whether a published digest exists for the entry.
func (e RemoteEntry) Verifiable() bool {
	return e.ExpectedDigest != ""
}

// LocalRecord is the persisted download state of one RemoteEntry.
type LocalRecord struct {
	Name       string `json:"name"`
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"` // relative to the database root
	State      State  `json:"state"`
	LastDigest string `json:"digest,omitempty"`
	Attempts   uint32 `json:"attempts"`
}
