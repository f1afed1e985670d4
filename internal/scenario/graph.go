package scenario

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/factdb"
)

// ErrInvalidGraph is returned for graph documents that cannot be turned into
// transaction data.
var ErrInvalidGraph = errors.New("invalid graph")

// Page is a page of a graph document.
type Page struct {
	Name       string   `yaml:"name" toml:"name"`
	JournalDay int64    `yaml:"journal_day,omitempty" toml:"journal_day,omitempty"`
	Aliases    []string `yaml:"aliases,omitempty" toml:"aliases,omitempty"`
}

// Block is a block of a graph document. Page names a page, Parent and Left
// the uuid of another block. Refs lists page names or block uuids.
type Block struct {
	UUID    string   `yaml:"uuid" toml:"uuid"`
	Page    string   `yaml:"page" toml:"page"`
	Parent  string   `yaml:"parent,omitempty" toml:"parent,omitempty"`
	Left    string   `yaml:"left,omitempty" toml:"left,omitempty"`
	Content string   `yaml:"content,omitempty" toml:"content,omitempty"`
	Refs    []string `yaml:"refs,omitempty" toml:"refs,omitempty"`
}

// Graph is a block graph document.
type Graph struct {
	Pages  []Page  `yaml:"pages,omitempty" toml:"pages,omitempty"`
	Blocks []Block `yaml:"blocks,omitempty" toml:"blocks,omitempty"`
}

// Empty reports whether the graph holds nothing.
func (g Graph) Empty() bool {
	return len(g.Pages) == 0 && len(g.Blocks) == 0
}

// PageTempID is the temp id a graph page is transacted under.
func PageTempID(name string) factdb.TempID {
	return factdb.TempID("page:" + strings.ToLower(name))
}

// BlockTempID is the temp id a graph block is transacted under.
func BlockTempID(id uuid.UUID) factdb.TempID {
	return factdb.TempID("block:" + id.String())
}

// TxData converts the graph into transaction data. Pages are upserted by
// name and blocks by uuid, so a graph may extend a database that already
// holds some of its entities. Pages named only through references or aliases
// are created with just a name.
func (g Graph) TxData() ([]any, error) {
	pages := map[string]factdb.Entity{}
	page := func(name string) factdb.TempID {
		key := strings.ToLower(name)
		if _, ok := pages[key]; !ok {
			pages[key] = factdb.Entity{
				factdb.AttrID:           PageTempID(name),
				factdb.AttrName:         key,
				factdb.AttrOriginalName: name,
			}
		}
		return PageTempID(name)
	}

	var aliases []any
	for _, p := range g.Pages {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.Wrap(ErrInvalidGraph, "page without name")
		}
		ent := pages[strings.ToLower(p.Name)]
		if ent == nil {
			page(p.Name)
			ent = pages[strings.ToLower(p.Name)]
		}
		ent[factdb.AttrOriginalName] = p.Name
		if p.JournalDay > 0 {
			ent[factdb.AttrJournal] = true
			ent[factdb.AttrJournalDay] = p.JournalDay
		}
		// aliases are added once every page entity has been upserted
		for _, a := range p.Aliases {
			aliases = append(aliases, factdb.Add(PageTempID(p.Name), factdb.AttrAlias, page(a)))
		}
	}

	blocks := make(map[uuid.UUID]bool, len(g.Blocks))
	for _, b := range g.Blocks {
		id, err := uuid.Parse(b.UUID)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidGraph, "block uuid %q", b.UUID)
		}
		blocks[id] = true
	}

	ref := func(s string) any {
		if id, err := uuid.Parse(s); err == nil {
			if blocks[id] {
				return BlockTempID(id)
			}
			return factdb.LookupRef{Attr: factdb.AttrUUID, Value: id}
		}
		return page(s)
	}

	// block to block links are added once every block has been upserted
	var blockData, links []any
	for _, b := range g.Blocks {
		id, _ := uuid.Parse(b.UUID)
		if b.Page == "" {
			return nil, errors.Wrapf(ErrInvalidGraph, "block %s without page", b.UUID)
		}
		tmp := BlockTempID(id)
		ent := factdb.Entity{
			factdb.AttrID:   tmp,
			factdb.AttrUUID: id,
			factdb.AttrPage: page(b.Page),
		}
		if b.Content != "" {
			ent[factdb.AttrContent] = b.Content
		}
		blockData = append(blockData, ent)

		if b.Parent != "" {
			links = append(links, factdb.Add(tmp, factdb.AttrParent, ref(b.Parent)))
		}
		if b.Left != "" {
			links = append(links, factdb.Add(tmp, factdb.AttrLeft, ref(b.Left)))
		}
		for _, r := range b.Refs {
			links = append(links, factdb.Add(tmp, factdb.AttrRefs, ref(r)))
		}
	}

	names := make([]string, 0, len(pages))
	for name := range pages {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]any, 0, len(pages)+len(aliases)+len(blockData)+len(links))
	for _, name := range names {
		out = append(out, pages[name])
	}
	out = append(out, aliases...)
	out = append(out, blockData...)
	return append(out, links...), nil
}

// Ref parses a textual entity reference: a block uuid, "#<id>" for a raw
// entity id, or a page name.
func Ref(s string) (any, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, errors.Wrap(ErrInvalidGraph, "empty reference")
	case strings.HasPrefix(s, "#"):
		id, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Wrapf(ErrInvalidGraph, "entity id %q", s)
		}
		return factdb.EID(id), nil
	}
	if id, err := uuid.Parse(s); err == nil {
		return factdb.LookupRef{Attr: factdb.AttrUUID, Value: id}, nil
	}
	return factdb.LookupRef{Attr: factdb.AttrName, Value: strings.ToLower(s)}, nil
}
