package crdt

import (
	"errors"
	"slices"
	"strings"
)

var ErrBadIndex = errors.New("index out of range")

// Item is one atomic inserted unit. Left and Right are the ids of the
// neighboring items at creation time; tombstoned items keep their place
// in the sequence forever.
type Item struct {
	ID      ID
	Left    ID
	Right   ID
	Content string
	Deleted bool
}

// Update is a causally self-contained set of items and deletion markers.
// Applying an update is commutative, associative and idempotent.
type Update struct {
	Items   []Item
	Deletes []ID
}

func (u *Update) Empty() bool {
	return len(u.Items) == 0 && len(u.Deletes) == 0
}

// Doc is one replica of the sequence. The total order lives in all
// (tombstones included); visible/text are lazy projections.
type Doc struct {
	client uint32
	clock  uint32

	vv    VV
	items map[ID]*Item
	all   []ID

	// buffered until their causal dependencies integrate
	pending    map[ID]Item
	pendingDel map[ID]struct{}

	visible []ID
	text    string
	dirty   bool
}

func NewDoc(client uint32) *Doc {
	return &Doc{
		client:     client,
		vv:         make(VV),
		items:      make(map[ID]*Item),
		pending:    make(map[ID]Item),
		pendingDel: make(map[ID]struct{}),
	}
}

func (d *Doc) Client() uint32 { return d.client }

// InsertAt inserts text at the visible index and returns the update
// describing the new items, one item per rune, clocks consecutive.
func (d *Doc) InsertAt(index int, text string) (*Update, error) {
	d.refresh()
	if index < 0 || index > len(d.visible) {
		return nil, ErrBadIndex
	}
	left := ID0
	if index > 0 {
		left = d.visible[index-1]
	}
	right := ID0
	if index < len(d.visible) {
		right = d.visible[index]
	}
	upd := &Update{}
	for _, r := range text {
		d.clock++
		it := Item{ID: MakeID(d.client, d.clock), Left: left, Right: right, Content: string(r)}
		d.integrate(it)
		upd.Items = append(upd.Items, it)
		left = it.ID
	}
	return upd, nil
}

// DeleteAt tombstones length visible items starting at index and returns
// an update carrying the deletion markers.
func (d *Doc) DeleteAt(index, length int) (*Update, error) {
	d.refresh()
	if index < 0 || length < 0 || index+length > len(d.visible) {
		return nil, ErrBadIndex
	}
	upd := &Update{}
	for _, id := range d.visible[index : index+length] {
		d.items[id].Deleted = true
		upd.Deletes = append(upd.Deletes, id)
	}
	if length > 0 {
		d.dirty = true
	}
	return upd, nil
}

// Apply merges an update into the document. Already-known items are
// skipped; items whose clock or origins are not yet known are buffered
// and retried after every successful integration, so causal gaps drain
// once the missing dependencies arrive.
func (d *Doc) Apply(u *Update) {
	for _, id := range u.Deletes {
		d.tombstone(id)
	}
	for _, it := range u.Items {
		if d.vv.SeenID(it.ID) {
			continue
		}
		if d.ready(it) {
			d.integrate(it)
			d.drainPending()
		} else {
			d.pending[it.ID] = it
		}
	}
	d.drainPending()
}

// StateVector returns a copy of the vector of integrated clocks.
func (d *Doc) StateVector() VV {
	return d.vv.Clone()
}

// DiffSince collects everything a peer holding remote lacks: the items
// above the peer's clocks, in per-client clock order so the receiver can
// integrate without gaps, plus the full tombstone set (re-applying a
// known tombstone is a no-op).
func (d *Doc) DiffSince(remote VV) *Update {
	upd := &Update{}
	perClient := make(map[uint32][]Item)
	for _, id := range d.all {
		it := d.items[id]
		if it.Deleted {
			upd.Deletes = append(upd.Deletes, id)
		}
		if remote.SeenID(id) {
			continue
		}
		perClient[id.Client()] = append(perClient[id.Client()],
			Item{ID: it.ID, Left: it.Left, Right: it.Right, Content: it.Content})
	}
	clients := make([]uint32, 0, len(perClient))
	for client := range perClient {
		clients = append(clients, client)
	}
	slices.Sort(clients)
	for _, client := range clients {
		items := perClient[client]
		slices.SortFunc(items, func(a, b Item) int {
			switch {
			case a.ID.Clock() < b.ID.Clock():
				return -1
			case a.ID.Clock() > b.ID.Clock():
				return 1
			}
			return 0
		})
		upd.Items = append(upd.Items, items...)
	}
	return upd
}

// EncodeState serializes the full document as a single update blob.
func (d *Doc) EncodeState() []byte {
	return d.DiffSince(nil).Encode()
}

// Text returns the visible text, tombstones filtered.
func (d *Doc) Text() string {
	d.refresh()
	return d.text
}

// Len returns the number of visible items.
func (d *Doc) Len() int {
	d.refresh()
	return len(d.visible)
}

// Pending returns the number of buffered items and deletion markers
// whose dependencies have not arrived yet.
func (d *Doc) Pending() int {
	return len(d.pending) + len(d.pendingDel)
}

// ready: clocks integrate gap-free per client, and both origins must be
// present before an item may take its place.
func (d *Doc) ready(it Item) bool {
	if it.ID.Clock() != d.vv[it.ID.Client()]+1 {
		return false
	}
	if !it.Left.Zero() {
		if _, ok := d.items[it.Left]; !ok {
			return false
		}
	}
	if !it.Right.Zero() {
		if _, ok := d.items[it.Right]; !ok {
			return false
		}
	}
	return true
}

// integrate places the item into the total order: walk right from the
// left origin, bounded by the right origin; a concurrent neighbor with a
// lower (clock, client) ordinal keeps the left slot.
func (d *Doc) integrate(it Item) {
	pos := 0
	if !it.Left.Zero() {
		pos = d.indexOf(it.Left) + 1
	}
	bound := len(d.all)
	if !it.Right.Zero() {
		bound = d.indexOf(it.Right)
	}
	for pos < bound && !ordLess(d.all[pos], it.ID) {
		pos++
	}
	d.all = append(d.all, ID0)
	copy(d.all[pos+1:], d.all[pos:])
	d.all[pos] = it.ID

	stored := it
	d.items[it.ID] = &stored
	d.vv.PutID(it.ID)
	if it.ID.Client() == d.client && it.ID.Clock() > d.clock {
		d.clock = it.ID.Clock()
	}
	if _, ok := d.pendingDel[it.ID]; ok {
		stored.Deleted = true
		delete(d.pendingDel, it.ID)
	}
	d.dirty = true
}

func (d *Doc) tombstone(id ID) {
	if it, ok := d.items[id]; ok {
		if !it.Deleted {
			it.Deleted = true
			d.dirty = true
		}
		return
	}
	d.pendingDel[id] = struct{}{}
}

func (d *Doc) drainPending() {
	for {
		progressed := false
		for id, it := range d.pending {
			if d.vv.SeenID(id) {
				delete(d.pending, id)
				progressed = true
				continue
			}
			if d.ready(it) {
				delete(d.pending, id)
				d.integrate(it)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func (d *Doc) indexOf(id ID) int {
	for i, cur := range d.all {
		if cur == id {
			return i
		}
	}
	return -1
}

func (d *Doc) refresh() {
	if !d.dirty {
		return
	}
	d.visible = d.visible[:0]
	var b strings.Builder
	for _, id := range d.all {
		it := d.items[id]
		if it.Deleted {
			continue
		}
		d.visible = append(d.visible, id)
		b.WriteString(it.Content)
	}
	d.text = b.String()
	d.dirty = false
}
