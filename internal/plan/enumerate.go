package plan

import (
	"strings"

	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/binder"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/querygraph"
)

// Planner lowers a bound statement to a logical plan, choosing a join
// order for each connected pattern component by dynamic programming over
// increasing SubqueryGraph size.
type Planner struct {
	cat   *catalog.Manager
	stats *catalog.StatisticsManager
}

// NewPlanner wires a Planner to the catalog (for table/column resolution)
// and the statistics manager (for the cost model's cardinality estimates).
func NewPlanner(cat *catalog.Manager, stats *catalog.StatisticsManager) *Planner {
	return &Planner{cat: cat, stats: stats}
}

// Plan lowers a bound query into one logical operator tree. Query parts
// chain: the prior part's output plan feeds the next part's pattern joins,
// WHERE, updates, and projection, matching a multi-part `WITH ... MATCH
// ... RETURN` pipeline.
func (p *Planner) Plan(q *binder.BoundQuery) (LogicalOp, error) {
	var cur LogicalOp
	for _, part := range q.Parts {
		next, err := p.planPart(part, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	if cur == nil {
		return nil, errs.New(errs.KindPlan, "query has no operators to plan")
	}
	return cur, nil
}

func (p *Planner) planPart(part binder.BoundQueryPart, prev LogicalOp) (LogicalOp, error) {
	plan := prev
	for _, qg := range part.Graphs.QueryGraphs() {
		component, err := p.planComponent(qg)
		if err != nil {
			return nil, err
		}
		if plan == nil {
			plan = component
		} else {
			plan = &LogicalHashJoin{Build: component, Probe: plan, EstCard: plan.Cardinality() * component.Cardinality()}
		}
	}

	if part.Where != nil {
		if plan == nil {
			return nil, errs.New(errs.KindPlan, "WHERE with no bound pattern to filter")
		}
		plan = &LogicalFilter{Child: plan, Predicate: part.Where}
	}

	for _, uc := range part.UpdatingClauses {
		plan = p.planUpdatingClause(uc, plan)
	}

	if part.Projection != nil {
		if plan == nil {
			return nil, errs.New(errs.KindPlan, "RETURN/WITH with no bound rows to project")
		}
		plan = p.planProjection(part.Projection, plan)
	}

	if plan == nil {
		return nil, errs.New(errs.KindPlan, "query part produces no operator")
	}
	return plan, nil
}

func (p *Planner) planUpdatingClause(uc ast.UpdatingClause, child LogicalOp) LogicalOp {
	switch c := uc.(type) {
	case *ast.CreateClause:
		return &LogicalCreate{Child: child, Pattern: c.Pattern}
	case *ast.MergeClause:
		return &LogicalCreate{
			Child:       child,
			Pattern:     &ast.PatternGraph{Paths: []ast.PatternPath{*c.Pattern}},
			IsMerge:     true,
			OnMatchSet:  c.OnMatch,
			OnCreateSet: c.OnCreate,
		}
	case *ast.SetClause:
		return &LogicalSet{Child: child, Items: c.Items}
	case *ast.DeleteClause:
		return &LogicalDelete{Child: child, Detach: c.Detach, Targets: c.Targets}
	}
	return child
}

var aggregateFuncNames = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true, "collect": true,
}

func containsAggregate(e ast.Expression) bool {
	switch v := e.(type) {
	case *ast.FunctionExpr:
		if aggregateFuncNames[strings.ToLower(v.Name)] {
			return true
		}
		for _, a := range v.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case *ast.BinaryExpr:
		return containsAggregate(v.Left) || containsAggregate(v.Right)
	case *ast.UnaryExpr:
		return containsAggregate(v.Expr)
	case *ast.PropertyExpr:
		return containsAggregate(v.Child)
	}
	return false
}

func (p *Planner) planProjection(proj *binder.BoundProjection, child LogicalOp) LogicalOp {
	plan := child

	hasAgg := false
	for _, it := range proj.Items {
		if containsAggregate(it.Expr) {
			hasAgg = true
			break
		}
	}
	switch {
	case hasAgg:
		var groupVars []string
		var aggItems []binder.BoundProjectionItem
		for _, it := range proj.Items {
			if containsAggregate(it.Expr) {
				aggItems = append(aggItems, it)
				continue
			}
			if v, ok := it.Expr.(*ast.VariableExpr); ok {
				groupVars = append(groupVars, v.Name)
			}
		}
		plan = &LogicalAggregate{Child: plan, GroupVars: groupVars, Aggregates: aggItems}
	case len(proj.Items) > 0 || proj.Star:
		plan = &LogicalProjection{Child: plan, Items: proj.Items, Distinct: proj.Distinct, Star: proj.Star}
	}

	if len(proj.OrderBy) > 0 {
		plan = &LogicalOrderBy{Child: plan, Items: proj.OrderBy}
	}
	if proj.Skip != nil {
		plan = &LogicalSkip{Child: plan, Skip: proj.Skip}
	}
	if proj.Limit != nil {
		plan = &LogicalLimit{Child: plan, Limit: proj.Limit}
	}
	return plan
}

// planKind distinguishes a fully realized dp entry from a pending one: a
// pending entry has just selected a rel whose new endpoint node has not
// been selected yet, so its plan is unchanged from its parent's — the
// actual LogicalExtend is only built once the endpoint node is added.
type planKind uint8

const (
	planRealized planKind = iota
	planPendingRel
)

type dpEntry struct {
	kind planKind
	plan LogicalOp
	cost float64
	card uint64
}

// planComponent runs the cost-based join-order search over one connected
// QueryGraph: dynamic programming over SubqueryGraph keyed by increasing
// selected-variable count, exactly as spec.md describes — for each
// reachable S at level s, either extend a smaller S by one neighbor
// variable, or join two smaller, already-solved, connected subgraphs whose
// union is S — keeping the cheapest plan found for each distinct S.
func (p *Planner) planComponent(qg *querygraph.QueryGraph) (LogicalOp, error) {
	dp := map[querygraph.SubqueryGraph]dpEntry{}
	var allKnown []querygraph.SubqueryGraph
	var frontier []querygraph.SubqueryGraph

	for i := 0; i < qg.GetNumQueryNodes(); i++ {
		scan, card, err := p.planNodeScan(qg.GetQueryNode(i))
		if err != nil {
			return nil, err
		}
		sub := querygraph.GetSingleNodeQueryGraph(qg, i)
		dp[sub] = dpEntry{kind: planRealized, plan: scan, cost: float64(card), card: card}
		frontier = append(frontier, sub)
		allKnown = append(allKnown, sub)
	}

	total := qg.GetNumQueryNodes() + qg.GetNumQueryRels()
	for size := 2; size <= total; size++ {
		touched := map[querygraph.SubqueryGraph]struct{}{}

		for _, sub := range frontier {
			parentEntry := dp[sub]
			for _, nbr := range sub.GetBaseNbrSubgraphs() {
				cand, ok := p.extendPlan(qg, sub, parentEntry, nbr)
				if !ok {
					continue
				}
				if existing, has := dp[nbr]; !has || cand.cost < existing.cost {
					dp[nbr] = cand
				}
				touched[nbr] = struct{}{}
			}
		}

		for nbr := range touched {
			if !isFullyBound(qg, nbr) {
				continue
			}
			for _, sprime := range allKnown {
				if sprime == nbr || !subsetOf(sprime, nbr) {
					continue
				}
				sdiff := diffSubgraph(qg, nbr, sprime)
				sdiffEntry, ok := dp[sdiff]
				if !ok || !isFullyBound(qg, sprime) || !isFullyBound(qg, sdiff) {
					continue
				}
				connected := sprime.GetConnectedNodePos(sdiff)
				if len(connected) == 0 {
					continue
				}
				sprimeEntry := dp[sprime]
				cost := sprimeEntry.cost + sdiffEntry.cost + joinCost(sprimeEntry.card, sdiffEntry.card)
				if existing, has := dp[nbr]; !has || cost < existing.cost {
					dp[nbr] = dpEntry{
						kind: planRealized,
						plan: buildHashJoin(qg, sprimeEntry, sdiffEntry, connected),
						cost: cost,
						card: joinCard(sprimeEntry.card, sdiffEntry.card),
					}
				}
			}
		}

		frontier = frontier[:0]
		for nbr := range touched {
			frontier = append(frontier, nbr)
			allKnown = append(allKnown, nbr)
		}
	}

	full := querygraph.NewSubqueryGraph(qg)
	for i := 0; i < qg.GetNumQueryNodes(); i++ {
		full.AddQueryNode(i)
	}
	for i := 0; i < qg.GetNumQueryRels(); i++ {
		full.AddQueryRel(i)
	}
	entry, ok := dp[full]
	if !ok {
		return nil, errs.New(errs.KindPlan, "no plan found covering every pattern variable")
	}
	return entry.plan, nil
}

func (p *Planner) planNodeScan(n querygraph.QueryNode) (LogicalOp, uint64, error) {
	if len(n.CandidateTableIDs) == 0 {
		return nil, 0, errs.New(errs.KindPlan, "variable %q has no candidate table", n.Name)
	}
	tableID := uint64(n.CandidateTableIDs[0])
	tbl, ok := p.cat.GetNodeTableByID(tableID)
	if !ok {
		return nil, 0, errs.New(errs.KindPlan, "unknown node table id %d for variable %q", tableID, n.Name)
	}
	st, _ := p.stats.Get(tableID, true)
	card := st.NumTuples
	if card == 0 {
		card = 1
	}
	return &LogicalScan{TableID: tableID, TableName: tbl.Name, IsNodeTable: true, OutVar: n.Name, EstCard: card}, card, nil
}

func (p *Planner) resolveRelTable(rel querygraph.QueryRel) (uint64, *catalog.RelTableSchema, error) {
	if len(rel.CandidateTableIDs) == 0 {
		return 0, nil, errs.New(errs.KindPlan, "rel variable %q has no candidate table", rel.Name)
	}
	tableID := uint64(rel.CandidateTableIDs[0])
	schema, ok := p.cat.GetRelTableByID(tableID)
	if !ok {
		return 0, nil, errs.New(errs.KindPlan, "unknown rel table id %d", tableID)
	}
	return tableID, schema, nil
}

// avgDegree estimates the average number of rels reachable per node on the
// traversed side, from the rel table's total row count and the count of
// the node table it starts from — the closest estimate the catalog's
// per-table stats (numTuples) can support without a dedicated histogram.
func (p *Planner) avgDegree(rel *catalog.RelTableSchema, forward bool) float64 {
	relStat, _ := p.stats.Get(rel.TableID, false)
	if relStat.NumTuples == 0 {
		return 1
	}
	nodeTableID := rel.SrcTableID
	if !forward {
		nodeTableID = rel.DstTableID
	}
	nodeStat, _ := p.stats.Get(nodeTableID, true)
	denom := nodeStat.NumTuples
	if denom == 0 {
		denom = 1
	}
	return float64(relStat.NumTuples) / float64(denom)
}

// addedPosition reports the single node or rel position nbr has selected
// beyond parent — GetBaseNbrSubgraphs always grows a subgraph by exactly
// one selected variable.
func addedPosition(parent, nbr querygraph.SubqueryGraph) (isNode bool, pos int) {
	have := map[int]bool{}
	for _, x := range parent.SelectedNodePositions() {
		have[x] = true
	}
	for _, x := range nbr.SelectedNodePositions() {
		if !have[x] {
			return true, x
		}
	}
	have = map[int]bool{}
	for _, x := range parent.SelectedRelPositions() {
		have[x] = true
	}
	for _, x := range nbr.SelectedRelPositions() {
		if !have[x] {
			return false, x
		}
	}
	return false, -1
}

func (p *Planner) extendPlan(qg *querygraph.QueryGraph, parentSub querygraph.SubqueryGraph, parentEntry dpEntry, nbr querygraph.SubqueryGraph) (dpEntry, bool) {
	isNode, pos := addedPosition(parentSub, nbr)

	if isNode {
		node := qg.GetQueryNode(pos)
		relPos := -1
		for _, r := range parentSub.SelectedRelPositions() {
			rel := qg.GetQueryRel(r)
			srcPos, _ := qg.GetQueryNodePos(rel.SrcNodeName)
			dstPos, _ := qg.GetQueryNodePos(rel.DstNodeName)
			if srcPos == pos || dstPos == pos {
				relPos = r
				break
			}
		}
		if relPos < 0 {
			return dpEntry{}, false
		}
		rel := qg.GetQueryRel(relPos)
		srcPos, _ := qg.GetQueryNodePos(rel.SrcNodeName)
		forward := srcPos != pos
		fromVar := rel.DstNodeName
		if forward {
			fromVar = rel.SrcNodeName
		}
		relTableID, relSchema, err := p.resolveRelTable(rel)
		if err != nil {
			return dpEntry{}, false
		}
		degree := p.avgDegree(relSchema, forward)
		card := uint64(float64(parentEntry.card) * degree)
		if card == 0 {
			card = 1
		}
		opPlan := &LogicalExtend{
			Child:        parentEntry.plan,
			RelTableID:   relTableID,
			RelTableName: relSchema.Name,
			FromVar:      fromVar,
			ToVar:        node.Name,
			RelVar:       rel.Name,
			Forward:      forward,
			EstCard:      card,
		}
		return dpEntry{kind: planRealized, plan: opPlan, cost: parentEntry.cost + float64(card), card: card}, true
	}

	rel := qg.GetQueryRel(pos)
	srcPos, srcOK := qg.GetQueryNodePos(rel.SrcNodeName)
	dstPos, dstOK := qg.GetQueryNodePos(rel.DstNodeName)
	srcSelected := srcOK && parentSub.ContainsQueryNode(srcPos)
	dstSelected := dstOK && parentSub.ContainsQueryNode(dstPos)

	if srcSelected && dstSelected {
		pred := &ast.BinaryExpr{
			Op:   "=",
			Left: &ast.PropertyExpr{Child: &ast.VariableExpr{Name: rel.SrcNodeName}, PropertyName: "_id"},
			Right: &ast.PropertyExpr{
				Child:        &ast.VariableExpr{Name: rel.DstNodeName},
				PropertyName: "_id",
			},
		}
		return dpEntry{kind: planRealized, plan: &LogicalFilter{Child: parentEntry.plan, Predicate: pred}, cost: parentEntry.cost, card: parentEntry.card}, true
	}
	if !srcSelected && !dstSelected {
		return dpEntry{}, false
	}
	// Exactly one endpoint already bound: defer realization until the
	// GetBaseNbrSubgraphs step that selects the other endpoint node.
	return dpEntry{kind: planPendingRel, plan: parentEntry.plan, cost: parentEntry.cost, card: parentEntry.card}, true
}

func isFullyBound(qg *querygraph.QueryGraph, sub querygraph.SubqueryGraph) bool {
	for _, r := range sub.SelectedRelPositions() {
		rel := qg.GetQueryRel(r)
		srcPos, _ := qg.GetQueryNodePos(rel.SrcNodeName)
		dstPos, _ := qg.GetQueryNodePos(rel.DstNodeName)
		if !sub.ContainsQueryNode(srcPos) || !sub.ContainsQueryNode(dstPos) {
			return false
		}
	}
	return true
}

func subsetOf(small, big querygraph.SubqueryGraph) bool {
	for _, n := range small.SelectedNodePositions() {
		if !big.ContainsQueryNode(n) {
			return false
		}
	}
	for _, r := range small.SelectedRelPositions() {
		if !big.ContainsQueryRel(r) {
			return false
		}
	}
	return true
}

func diffSubgraph(qg *querygraph.QueryGraph, big, small querygraph.SubqueryGraph) querygraph.SubqueryGraph {
	out := querygraph.NewSubqueryGraph(qg)
	for _, n := range big.SelectedNodePositions() {
		if !small.ContainsQueryNode(n) {
			out.AddQueryNode(n)
		}
	}
	for _, r := range big.SelectedRelPositions() {
		if !small.ContainsQueryRel(r) {
			out.AddQueryRel(r)
		}
	}
	return out
}

func buildHashJoin(qg *querygraph.QueryGraph, a, b dpEntry, connected []int) LogicalOp {
	joinVars := make([]string, len(connected))
	for i, pos := range connected {
		joinVars[i] = qg.GetQueryNode(pos).Name
	}
	build, probe := a.plan, b.plan
	buildCard, probeCard := a.card, b.card
	if b.card < a.card {
		build, probe = b.plan, a.plan
		buildCard, probeCard = b.card, a.card
	}
	return &LogicalHashJoin{Build: build, Probe: probe, JoinVars: joinVars, EstCard: joinCard(buildCard, probeCard)}
}

// joinCost is the classic build-then-probe cost: one pass to build the
// hash table, one pass to probe it.
func joinCost(buildCard, probeCard uint64) float64 {
	return float64(buildCard) + float64(probeCard)
}

// joinCard estimates the joined cardinality; lacking a join-key histogram,
// it assumes a foreign-key-like join and takes the larger side as the
// bound.
func joinCard(buildCard, probeCard uint64) uint64 {
	if buildCard > probeCard {
		return buildCard
	}
	return probeCard
}
