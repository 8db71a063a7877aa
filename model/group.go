package model

import (
	"fmt"
	"strings"
)

// Site selects one of the two archive roots.
type Site string

const (
	SiteRefSeq  Site = "refseq"
	SiteGenBank Site = "genbank"
)

// ParseSite validates a site name.
func ParseSite(s string) (Site, error) {
	switch Site(strings.ToLower(strings.TrimSpace(s))) {
	case SiteRefSeq:
		return SiteRefSeq, nil
	case SiteGenBank:
		return SiteGenBank, nil
	default:
		return "", fmt.Errorf("unsupported site: %q (must be 'refseq' or 'genbank')", s)
	}
}

// Root is the remote directory under which the site's groups live.
func (s Site) Root() string {
	return "genomes/" + string(s)
}

// Group is a taxonomic partition of the library.
type Group string

const (
	GroupArchaea  Group = "archaea"
	GroupBacteria Group = "bacteria"
	GroupViral    Group = "viral"
	GroupFungi    Group = "fungi"
	GroupPlant    Group = "plant"
	GroupHuman    Group = "human"
	GroupProtozoa Group = "protozoa"
)

// Groups lists every supported group.
var Groups = []Group{
	GroupArchaea, GroupBacteria, GroupViral, GroupFungi, GroupPlant, GroupHuman, GroupProtozoa,
}

const humanRemotePath = "vertebrate_mammalian/Homo_sapiens"

// RemotePath is the group's directory below the site root. Only human is
// translated; the group keeps its own name locally and in metadata keys.
func (g Group) RemotePath() string {
	if g == GroupHuman {
		return humanRemotePath
	}
	return string(g)
}

// ParseGroups splits a comma separated list and validates every name.
// Duplicates are dropped while preserving the requested order.
func ParseGroups(list string) ([]Group, error) {
	var groups []Group
	seen := make(map[Group]bool)
	for _, part := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		g := Group(name)
		if !g.Valid() {
			return nil, fmt.Errorf("group %q not in ncbi library", name)
		}
		if seen[g] {
			continue
		}
		seen[g] = true
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("at least one group is required")
	}
	return groups, nil
}

func (g Group) Valid() bool {
	for _, known := range Groups {
		if g == known {
			return true
		}
	}
	return false
}

// Mode is the per-group operation selected by the caller.
type Mode string

const (
	ModeAcquire   Mode = "acquire"   // catalog + download
	ModeVerify    Mode = "verify"    // catalog + local checksum confirmation
	ModeAggregate Mode = "aggregate" // merge from current metadata state
	ModeFull      Mode = "full"      // acquire, then aggregate
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAcquire:
		return ModeAcquire, nil
	case ModeVerify, "md5":
		return ModeVerify, nil
	case ModeAggregate, "fna":
		return ModeAggregate, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("unsupported mode: %q (must be acquire, verify, aggregate or full)", s)
	}
}
