package exec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
)

// Operator is one pull-based step of a physical plan: Open prepares it
// (recursively opening its children and, for a blocking operator, fully
// draining its build side), GetNextTuple returns the next row or ok=false
// once exhausted, and Close releases whatever Open acquired.
type Operator interface {
	Open(state *ExecState) error
	GetNextTuple(state *ExecState) (Tuple, bool, error)
	Close() error
}

// ---- Scan ----

// ScanOp reads every live row of one node or rel table, binding OutVar to
// a map[string]any carrying "_id" plus every declared property.
type ScanOp struct {
	TableID     uint64
	IsNodeTable bool
	OutVar      string

	cursor uint64
	total  uint64
}

func (s *ScanOp) Open(state *ExecState) error {
	if s.IsNodeTable {
		if _, ok := state.Catalog.GetNodeTableByID(s.TableID); !ok {
			return errs.New(errs.KindExecution, "scan: unknown node table %d", s.TableID)
		}
	} else if _, ok := state.Catalog.GetRelTableByID(s.TableID); !ok {
		return errs.New(errs.KindExecution, "scan: unknown rel table %d", s.TableID)
	}
	st, _ := state.Stats.Get(s.TableID, s.IsNodeTable)
	s.total = st.NumTuples
	s.cursor = 0
	return nil
}

func (s *ScanOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	for s.cursor < s.total {
		n := s.cursor
		s.cursor++
		if state.Aborted != nil && state.Aborted() {
			return nil, false, errs.New(errs.KindExecution, "execution aborted")
		}
		if s.IsNodeTable {
			schema, _ := state.Catalog.GetNodeTableByID(s.TableID)
			st, _ := state.Stats.Get(s.TableID, true)
			if _, deleted := st.DeletedOffsets[n]; deleted {
				continue
			}
			row, err := state.Store.NodeRow(schema, n)
			if err != nil {
				return nil, false, err
			}
			return Tuple{s.OutVar: row}, true, nil
		}
		schema, _ := state.Catalog.GetRelTableByID(s.TableID)
		row, err := state.Store.RelRow(schema, n)
		if err != nil {
			return nil, false, err
		}
		return Tuple{s.OutVar: row}, true, nil
	}
	return nil, false, nil
}

func (s *ScanOp) Close() error { return nil }

// ---- Extend ----

// ExtendOp traverses RelTableID from Child's FromVar-bound node, yielding
// one output row per adjacency entry and binding both ToVar (the
// neighboring node) and RelVar (the traversed edge).
type ExtendOp struct {
	Child      Operator
	RelTableID uint64
	FromVar    string
	ToVar      string
	RelVar     string
	Forward    bool

	base    Tuple
	entries []entryPair
	idx     int
}

type entryPair struct {
	nbrOffset uint64
	relOffset uint64
}

func (e *ExtendOp) Open(state *ExecState) error { return e.Child.Open(state) }

func (e *ExtendOp) fetchNext(state *ExecState) (bool, error) {
	for {
		row, ok, err := e.Child.GetNextTuple(state)
		if err != nil || !ok {
			return false, err
		}
		fromVal, _ := row[e.FromVar].(map[string]any)
		if fromVal == nil {
			continue
		}
		offset, _ := fromVal["_id"].(uint64)
		relSchema, ok := state.Catalog.GetRelTableByID(e.RelTableID)
		if !ok {
			return false, errs.New(errs.KindExecution, "extend: unknown rel table %d", e.RelTableID)
		}
		entries, err := state.Store.Neighbors(relSchema, e.Forward, offset)
		if err != nil {
			return false, err
		}
		if len(entries) == 0 {
			continue
		}
		e.base = row
		e.entries = e.entries[:0]
		for _, en := range entries {
			e.entries = append(e.entries, entryPair{nbrOffset: en.NbrOffset, relOffset: en.RelOffset})
		}
		e.idx = 0
		return true, nil
	}
}

func (e *ExtendOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	for e.idx >= len(e.entries) {
		ok, err := e.fetchNext(state)
		if err != nil || !ok {
			return nil, false, err
		}
	}
	entry := e.entries[e.idx]
	e.idx++

	relSchema, _ := state.Catalog.GetRelTableByID(e.RelTableID)
	relRow, err := state.Store.RelRow(relSchema, entry.relOffset)
	if err != nil {
		return nil, false, err
	}
	var dstSchema *catalog.NodeTableSchema
	if e.Forward {
		dstSchema, _ = state.Catalog.GetNodeTableByID(relSchema.DstTableID)
	} else {
		dstSchema, _ = state.Catalog.GetNodeTableByID(relSchema.SrcTableID)
	}
	nbrRow, err := state.Store.NodeRow(dstSchema, entry.nbrOffset)
	if err != nil {
		return nil, false, err
	}

	out := e.base.Clone()
	out[e.ToVar] = nbrRow
	out[e.RelVar] = relRow
	return out, true, nil
}

func (e *ExtendOp) Close() error { return e.Child.Close() }

// ---- HashJoin ----

// HashJoinOp materializes Build into a hash table keyed by JoinVars during
// Open (its pipeline-breaking step), then streams Probe rows, emitting one
// merged row per match. A nil/empty JoinVars degrades to a cross product.
type HashJoinOp struct {
	Build, Probe Operator
	JoinVars     []string

	table   map[string][]Tuple
	cross   []Tuple
	current []Tuple
	probeRow Tuple
	idx     int
}

func joinKey(row Tuple, vars []string) string {
	var sb strings.Builder
	for _, v := range vars {
		m, _ := row[v].(map[string]any)
		sb.WriteString(v)
		sb.WriteByte('=')
		if m != nil {
			sb.WriteString(toKeyString(m["_id"]))
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

func (h *HashJoinOp) Open(state *ExecState) error {
	if err := h.Build.Open(state); err != nil {
		return err
	}
	if len(h.JoinVars) == 0 {
		h.cross = nil
		for {
			row, ok, err := h.Build.GetNextTuple(state)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			h.cross = append(h.cross, row)
		}
	} else {
		h.table = map[string][]Tuple{}
		for {
			row, ok, err := h.Build.GetNextTuple(state)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			k := joinKey(row, h.JoinVars)
			h.table[k] = append(h.table[k], row)
		}
	}
	if err := h.Build.Close(); err != nil {
		return err
	}
	return h.Probe.Open(state)
}

func (h *HashJoinOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	for {
		if h.idx < len(h.current) {
			merged := h.probeRow.Clone()
			for k, v := range h.current[h.idx] {
				merged[k] = v
			}
			h.idx++
			return merged, true, nil
		}
		row, ok, err := h.Probe.GetNextTuple(state)
		if err != nil || !ok {
			return nil, false, err
		}
		h.probeRow = row
		if len(h.JoinVars) == 0 {
			h.current = h.cross
		} else {
			h.current = h.table[joinKey(row, h.JoinVars)]
		}
		h.idx = 0
	}
}

func (h *HashJoinOp) Close() error { return h.Probe.Close() }

// ---- Filter ----

type FilterOp struct {
	Child     Operator
	Predicate ast.Expression
}

func (f *FilterOp) Open(state *ExecState) error { return f.Child.Open(state) }

func (f *FilterOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	for {
		row, ok, err := f.Child.GetNextTuple(state)
		if err != nil || !ok {
			return nil, false, err
		}
		if f.Predicate == nil {
			return row, true, nil
		}
		v, err := eval(f.Predicate, row, state.Params)
		if err != nil {
			return nil, false, err
		}
		if b, _ := v.(bool); b {
			return row, true, nil
		}
	}
}

func (f *FilterOp) Close() error { return f.Child.Close() }

// ---- Projection ----

type ProjectionItem struct {
	Expr  ast.Expression
	Alias string
}

type ProjectionOp struct {
	Child    Operator
	Items    []ProjectionItem
	Distinct bool
	Star     bool

	seen map[string]bool
}

func (p *ProjectionOp) Open(state *ExecState) error {
	if p.Distinct {
		p.seen = map[string]bool{}
	}
	return p.Child.Open(state)
}

func (p *ProjectionOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	for {
		row, ok, err := p.Child.GetNextTuple(state)
		if err != nil || !ok {
			return nil, false, err
		}
		var out Tuple
		if p.Star {
			out = row.Clone()
		} else {
			out = make(Tuple, len(p.Items))
			for _, it := range p.Items {
				v, err := eval(it.Expr, row, state.Params)
				if err != nil {
					return nil, false, err
				}
				name := it.Alias
				if name == "" {
					if ve, ok := it.Expr.(*ast.VariableExpr); ok {
						name = ve.Name
					}
				}
				out[name] = v
			}
		}
		if p.Distinct {
			k := rowKey(out)
			if p.seen[k] {
				continue
			}
			p.seen[k] = true
		}
		return out, true, nil
	}
}

func (p *ProjectionOp) Close() error { return p.Child.Close() }

func rowKey(row Tuple) string {
	var sb strings.Builder
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(toKeyString(row[k]))
		sb.WriteByte(';')
	}
	return sb.String()
}

func toKeyString(v any) string {
	switch n := v.(type) {
	case map[string]any:
		return rowKey(Tuple(n))
	default:
		return fmt.Sprintf("%v", n)
	}
}

// ---- OrderBy ----

type OrderByOp struct {
	Child Operator
	Items []ast.SortItem

	rows []Tuple
	idx  int
	done bool
}

func (o *OrderByOp) Open(state *ExecState) error {
	if err := o.Child.Open(state); err != nil {
		return err
	}
	o.rows = nil
	for {
		row, ok, err := o.Child.GetNextTuple(state)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		o.rows = append(o.rows, row)
	}
	var sortErr error
	sort.SliceStable(o.rows, func(i, j int) bool {
		for _, item := range o.Items {
			vi, err := eval(item.Expr, o.rows[i], state.Params)
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := eval(item.Expr, o.rows[j], state.Params)
			if err != nil {
				sortErr = err
				return false
			}
			if equalValues(vi, vj) {
				continue
			}
			less, _ := compareValues("<", vi, vj)
			lb, _ := less.(bool)
			if item.Descending {
				return !lb
			}
			return lb
		}
		return false
	})
	o.idx = 0
	return sortErr
}

func (o *OrderByOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	if o.idx >= len(o.rows) {
		return nil, false, nil
	}
	row := o.rows[o.idx]
	o.idx++
	return row, true, nil
}

func (o *OrderByOp) Close() error { return o.Child.Close() }

// ---- Limit / Skip ----

type LimitOp struct {
	Child Operator
	N     int64

	emitted int64
}

func (l *LimitOp) Open(state *ExecState) error { l.emitted = 0; return l.Child.Open(state) }
func (l *LimitOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	if l.emitted >= l.N {
		return nil, false, nil
	}
	row, ok, err := l.Child.GetNextTuple(state)
	if err != nil || !ok {
		return nil, false, err
	}
	l.emitted++
	return row, true, nil
}
func (l *LimitOp) Close() error { return l.Child.Close() }

type SkipOp struct {
	Child Operator
	N     int64

	skipped int64
}

func (s *SkipOp) Open(state *ExecState) error { s.skipped = 0; return s.Child.Open(state) }
func (s *SkipOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	for s.skipped < s.N {
		_, ok, err := s.Child.GetNextTuple(state)
		if err != nil || !ok {
			return nil, false, err
		}
		s.skipped++
	}
	return s.Child.GetNextTuple(state)
}
func (s *SkipOp) Close() error { return s.Child.Close() }

// ---- Aggregate ----

type AggregateItem struct {
	Expr  *ast.FunctionExpr
	Alias string
}

// AggregateOp groups Child's rows by GroupVars, evaluating Aggregates once
// per group; a nil GroupVars aggregates every row into a single group.
type AggregateOp struct {
	Child      Operator
	GroupVars  []string
	Aggregates []AggregateItem

	results []Tuple
	idx     int
}

type aggState struct {
	count   int64
	sum     float64
	isFloat bool
	min     any
	max     any
	collect []any
	seen    map[string]bool // DISTINCT dedup
}

func (a *AggregateOp) Open(state *ExecState) error {
	if err := a.Child.Open(state); err != nil {
		return err
	}
	groups := map[string]Tuple{}
	order := []string{}
	aggStates := map[string]map[string]*aggState{}

	for {
		row, ok, err := a.Child.GetNextTuple(state)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key := joinKey(row, a.GroupVars)
		if _, seen := groups[key]; !seen {
			g := make(Tuple, len(a.GroupVars))
			for _, v := range a.GroupVars {
				g[v] = row[v]
			}
			groups[key] = g
			aggStates[key] = map[string]*aggState{}
			order = append(order, key)
		}
		for _, item := range a.Aggregates {
			st := aggStates[key][item.Alias]
			if st == nil {
				st = &aggState{seen: map[string]bool{}}
				aggStates[key][item.Alias] = st
			}
			if err := foldAggregate(st, item.Expr, row, state.Params); err != nil {
				return err
			}
		}
	}

	a.results = make([]Tuple, 0, len(order))
	for _, key := range order {
		out := groups[key].Clone()
		for _, item := range a.Aggregates {
			out[item.Alias] = finalizeAggregate(aggStates[key][item.Alias], item.Expr)
		}
		a.results = append(a.results, out)
	}
	a.idx = 0
	return nil
}

func foldAggregate(st *aggState, fn *ast.FunctionExpr, row Tuple, params map[string]any) error {
	name := strings.ToLower(fn.Name)
	var v any
	var err error
	if len(fn.Args) == 1 && !fn.Star {
		v, err = eval(fn.Args[0], row, params)
		if err != nil {
			return err
		}
	}
	if fn.Distinct && v != nil {
		k := toKeyString(v)
		if st.seen[k] {
			return nil
		}
		st.seen[k] = true
	}
	switch name {
	case "count":
		if fn.Star || v != nil {
			st.count++
		}
	case "sum", "avg":
		f, ok := toFloat(v)
		if !ok {
			return nil
		}
		st.sum += f
		st.count++
		if _, isF := v.(float64); isF {
			st.isFloat = true
		}
	case "min":
		if v != nil && (st.min == nil || lessAny(v, st.min)) {
			st.min = v
		}
	case "max":
		if v != nil && (st.max == nil || lessAny(st.max, v)) {
			st.max = v
		}
	case "collect":
		if v != nil {
			st.collect = append(st.collect, v)
		}
	default:
		return errs.New(errs.KindExecution, "unsupported aggregate function %q", fn.Name)
	}
	return nil
}

func lessAny(a, b any) bool {
	r, _ := compareValues("<", a, b)
	v, _ := r.(bool)
	return v
}

func finalizeAggregate(st *aggState, fn *ast.FunctionExpr) any {
	if st == nil {
		st = &aggState{}
	}
	switch strings.ToLower(fn.Name) {
	case "count":
		return st.count
	case "sum":
		if st.isFloat {
			return st.sum
		}
		return int64(st.sum)
	case "avg":
		if st.count == 0 {
			return nil
		}
		return st.sum / float64(st.count)
	case "min":
		return st.min
	case "max":
		return st.max
	case "collect":
		if st.collect == nil {
			return []any{}
		}
		return st.collect
	default:
		return nil
	}
}

func (a *AggregateOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	if a.idx >= len(a.results) {
		return nil, false, nil
	}
	row := a.results[a.idx]
	a.idx++
	return row, true, nil
}

func (a *AggregateOp) Close() error { return a.Child.Close() }

// ---- Set ----

type SetOp struct {
	Child Operator
	Items []ast.SetItem
}

func (s *SetOp) Open(state *ExecState) error { return s.Child.Open(state) }

func (s *SetOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	row, ok, err := s.Child.GetNextTuple(state)
	if err != nil || !ok {
		return nil, false, err
	}
	for _, item := range s.Items {
		if err := s.applyOne(state, row, item); err != nil {
			return nil, false, err
		}
	}
	return row, true, nil
}

func (s *SetOp) applyOne(state *ExecState, row Tuple, item ast.SetItem) error {
	prop, ok := item.Target.(*ast.PropertyExpr)
	if !ok {
		return errs.New(errs.KindExecution, "SET target must be a property access")
	}
	varExpr, ok := prop.Child.(*ast.VariableExpr)
	if !ok {
		return errs.New(errs.KindExecution, "SET target's base must be a variable")
	}
	entity, _ := row[varExpr.Name].(map[string]any)
	if entity == nil {
		return errs.New(errs.KindExecution, "SET: variable %q is not bound", varExpr.Name)
	}
	offset, _ := entity["_id"].(uint64)
	v, err := eval(item.Value, row, state.Params)
	if err != nil {
		return err
	}
	entity[prop.PropertyName] = v

	tableID, _ := entity["_table"].(uint64)
	isNode, _ := entity["_isNode"].(bool)
	if isNode {
		schema, ok := state.Catalog.GetNodeTableByID(tableID)
		if !ok {
			return errs.New(errs.KindExecution, "SET: unknown node table %d", tableID)
		}
		p, ok := schema.PropertyByName(prop.PropertyName)
		if !ok {
			return errs.New(errs.KindExecution, "SET: table %q has no property %q", schema.Name, prop.PropertyName)
		}
		return state.Store.WriteNodeProperty(state.TxID, schema, p, offset, v)
	}
	schema, ok := state.Catalog.GetRelTableByID(tableID)
	if !ok {
		return errs.New(errs.KindExecution, "SET: unknown rel table %d", tableID)
	}
	p, ok := schema.PropertyByName(prop.PropertyName)
	if !ok {
		return errs.New(errs.KindExecution, "SET: table %q has no property %q", schema.Name, prop.PropertyName)
	}
	return state.Store.WriteRelProperty(state.TxID, schema, p, offset, v)
}

func (s *SetOp) Close() error { return s.Child.Close() }

// ---- Create ----

// CreateOp materializes Pattern once per row of Child (or once, for a
// bare CREATE with no preceding MATCH). IsMerge, MatchKey, OnMatchSet and
// OnCreateSet are carried but never consulted: Build rejects a MERGE before
// a CreateOp is made, and every call creates one new node.
type CreateOp struct {
	Child       Operator // nil for a bare CREATE
	NodeTable   *catalog.NodeTableSchema
	Values      map[string]ast.Expression
	OutVar      string
	IsMerge     bool
	MatchKey    string // property name MERGE matches on, when IsMerge
	OnMatchSet  []ast.SetItem
	OnCreateSet []ast.SetItem

	done bool
}

func (c *CreateOp) Open(state *ExecState) error {
	c.done = false
	if c.Child != nil {
		return c.Child.Open(state)
	}
	return nil
}

func (c *CreateOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	var base Tuple
	if c.Child != nil {
		row, ok, err := c.Child.GetNextTuple(state)
		if err != nil || !ok {
			return nil, false, err
		}
		base = row
	} else {
		if c.done {
			return nil, false, nil
		}
		c.done = true
		base = Tuple{}
	}

	values := make(map[string]any, len(c.Values))
	for k, expr := range c.Values {
		v, err := eval(expr, base, state.Params)
		if err != nil {
			return nil, false, err
		}
		values[k] = v
	}

	offset, err := state.Store.CreateNode(state.TxID, c.NodeTable, state.Stats, values)
	if err != nil {
		return nil, false, err
	}
	row, err := state.Store.NodeRow(c.NodeTable, offset)
	if err != nil {
		return nil, false, err
	}
	out := base.Clone()
	out[c.OutVar] = row
	return out, true, nil
}

func (c *CreateOp) Close() error {
	if c.Child != nil {
		return c.Child.Close()
	}
	return nil
}

// ---- Delete ----

type DeleteOp struct {
	Child   Operator
	Detach  bool
	Targets []string // bound variable names to delete
}

func (d *DeleteOp) Open(state *ExecState) error { return d.Child.Open(state) }

func (d *DeleteOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	row, ok, err := d.Child.GetNextTuple(state)
	if err != nil || !ok {
		return nil, false, err
	}
	for _, v := range d.Targets {
		entity, _ := row[v].(map[string]any)
		if entity == nil {
			continue
		}
		isNode, _ := entity["_isNode"].(bool)
		if !isNode {
			continue // rel tables carry no tombstone set; a rel target is skipped and stays visible to rel scans and extends
		}
		offset, _ := entity["_id"].(uint64)
		tableID, _ := entity["_table"].(uint64)
		schema, ok := state.Catalog.GetNodeTableByID(tableID)
		if !ok {
			continue
		}
		state.Store.DeleteNode(schema, state.Stats, offset)
	}
	return row, true, nil
}

func (d *DeleteOp) Close() error { return d.Child.Close() }

// ---- CopyFrom / CopyTo ----

// CopyFromOp is COPY FROM's root operator; Run performs the actual bulk
// load (via internal/loader) and reports the row count. Scoping the bulk
// loader's construction (source format, table-specific copier, primary
// key index wiring) to the caller keeps this package independent of
// internal/loader's richer per-format source types.
type CopyFromOp struct {
	Run func() (uint64, error)

	rowCount uint64
	done     bool
}

func (c *CopyFromOp) Open(state *ExecState) error {
	n, err := c.Run()
	c.rowCount = n
	return err
}

func (c *CopyFromOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	if c.done {
		return nil, false, nil
	}
	c.done = true
	return Tuple{"rowsCopied": c.rowCount}, true, nil
}

func (c *CopyFromOp) Close() error { return nil }

// CopyToOp streams Child's rows to Write once per row. Path names the
// destination the caller's Write closure is expected to write to (wired by
// the façade, which owns the actual CSV encoder).
type CopyToOp struct {
	Child Operator
	Path  string
	Write func(Tuple) error

	count uint64
}

func (c *CopyToOp) Open(state *ExecState) error { return c.Child.Open(state) }

func (c *CopyToOp) GetNextTuple(state *ExecState) (Tuple, bool, error) {
	row, ok, err := c.Child.GetNextTuple(state)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if c.Write == nil {
		return nil, false, errs.New(errs.KindExecution, "COPY TO %q has no destination writer wired", c.Path)
	}
	if err := c.Write(row); err != nil {
		return nil, false, err
	}
	c.count++
	return row, true, nil
}

func (c *CopyToOp) Close() error { return c.Child.Close() }
