package subscription

import (
	"sync"

	"github.com/notemesh/notemesh/core"
	"github.com/notemesh/notemesh/utils/stringset"
)

type tagKey struct {
	name  byte
	value string
}

// Index maintains inverted lookups from filter-key features to candidate
// subscription ids. FindCandidates returns a superset of the true matches;
// callers confirm each candidate against the full filter predicate.
type Index struct {
	mu       sync.RWMutex
	byKind   map[int]stringset.Set
	byAuthor map[core.PubKey]stringset.Set
	byTag    map[tagKey]stringset.Set
	wildcard stringset.Set
}

// NewIndex creates a new Index.
func NewIndex() *Index {
	return &Index{
		byKind:   make(map[int]stringset.Set),
		byAuthor: make(map[core.PubKey]stringset.Set),
		byTag:    make(map[tagKey]stringset.Set),
		wildcard: make(stringset.Set),
	}
}

// Add indexes sub under every narrowing feature of its filters. Filters
// with no kind, author, or tag constraint land in the wildcard set. All
// posting lists are updated atomically.
func (i *Index) Add(sub *Subscription) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, f := range sub.Filters {
		if f.Wildcard() {
			i.wildcard.Add(sub.ID)
			continue
		}
		for _, kind := range f.Kinds {
			i.postKind(kind).Add(sub.ID)
		}
		for _, author := range f.Authors {
			i.postAuthor(author).Add(sub.ID)
		}
		for name, values := range f.Tags {
			for _, v := range values {
				i.postTag(tagKey{name, v}).Add(sub.ID)
			}
		}
	}
}

// Remove removes sub from every posting list it appears in.
func (i *Index) Remove(sub *Subscription) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.wildcard.Remove(sub.ID)
	for _, f := range sub.Filters {
		for _, kind := range f.Kinds {
			i.unpostKind(kind, sub.ID)
		}
		for _, author := range f.Authors {
			i.unpostAuthor(author, sub.ID)
		}
		for name, values := range f.Tags {
			for _, v := range values {
				i.unpostTag(tagKey{name, v}, sub.ID)
			}
		}
	}
}

// FindCandidates returns the union of the posting lists for e's kind,
// author, and every tag value, plus the wildcard set.
func (i *Index) FindCandidates(e *core.Event) stringset.Set {
	i.mu.RLock()
	defer i.mu.RUnlock()

	candidates := i.wildcard.Copy()
	for id := range i.byKind[e.Kind] {
		candidates.Add(id)
	}
	for id := range i.byAuthor[e.PubKey] {
		candidates.Add(id)
	}
	for _, t := range e.Tags {
		name := t.Name()
		if name == 0 || len(t) < 2 {
			continue
		}
		for id := range i.byTag[tagKey{name, t[1]}] {
			candidates.Add(id)
		}
	}
	return candidates
}

func (i *Index) postKind(kind int) stringset.Set {
	s, ok := i.byKind[kind]
	if !ok {
		s = make(stringset.Set)
		i.byKind[kind] = s
	}
	return s
}

func (i *Index) postAuthor(author core.PubKey) stringset.Set {
	s, ok := i.byAuthor[author]
	if !ok {
		s = make(stringset.Set)
		i.byAuthor[author] = s
	}
	return s
}

func (i *Index) postTag(k tagKey) stringset.Set {
	s, ok := i.byTag[k]
	if !ok {
		s = make(stringset.Set)
		i.byTag[k] = s
	}
	return s
}

func (i *Index) unpostKind(kind int, id string) {
	if s, ok := i.byKind[kind]; ok {
		s.Remove(id)
		if len(s) == 0 {
			delete(i.byKind, kind)
		}
	}
}

func (i *Index) unpostAuthor(author core.PubKey, id string) {
	if s, ok := i.byAuthor[author]; ok {
		s.Remove(id)
		if len(s) == 0 {
			delete(i.byAuthor, author)
		}
	}
}

func (i *Index) unpostTag(k tagKey, id string) {
	if s, ok := i.byTag[k]; ok {
		s.Remove(id)
		if len(s) == 0 {
			delete(i.byTag, k)
		}
	}
}
