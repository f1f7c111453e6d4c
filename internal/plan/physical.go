package plan

// PhysicalOp is one logical operator assigned to a pipeline.
type PhysicalOp struct {
	Logical    LogicalOp
	PipelineID int
}

// Pipeline is a maximal run of operators that can execute as one
// synchronous pull chain: Ops[0] is the pipeline's sink (the operator
// nearest the plan root within this segment), and each subsequent entry is
// that operator's child. A pipeline ends where a blocking operator
// (HashJoin's build side, Aggregate, OrderBy) requires its upstream to
// fully materialize before the downstream side can run.
type Pipeline struct {
	ID  int
	Ops []PhysicalOp
}

// PhysicalPlan is a logical plan lowered into its constituent pipelines.
type PhysicalPlan struct {
	Pipelines    []*Pipeline
	RootPipeline int
}

// Lower assigns every operator in root's tree to a pipeline, breaking a new
// pipeline at each blocking operator boundary (spec.md §4.12's "lowered to
// a physical plan with explicit pipelines").
func Lower(root LogicalOp) *PhysicalPlan {
	p := &PhysicalPlan{}
	rootPipeline := p.newPipeline()
	p.lower(root, rootPipeline)
	p.RootPipeline = rootPipeline
	return p
}

func (p *PhysicalPlan) newPipeline() int {
	id := len(p.Pipelines)
	p.Pipelines = append(p.Pipelines, &Pipeline{ID: id})
	return id
}

func (p *PhysicalPlan) lower(op LogicalOp, pipelineID int) {
	pipeline := p.Pipelines[pipelineID]
	pipeline.Ops = append(pipeline.Ops, PhysicalOp{Logical: op, PipelineID: pipelineID})

	switch o := op.(type) {
	case *LogicalHashJoin:
		buildPipeline := p.newPipeline()
		p.lower(o.Build, buildPipeline)
		p.lower(o.Probe, pipelineID)
	case *LogicalAggregate:
		childPipeline := p.newPipeline()
		p.lower(o.Child, childPipeline)
	case *LogicalOrderBy:
		childPipeline := p.newPipeline()
		p.lower(o.Child, childPipeline)
	default:
		for _, c := range op.Children() {
			p.lower(c, pipelineID)
		}
	}
}

// BlockingInputs returns the pipelines that pipelineID's sink operator
// must wait to fully drain before it can begin pulling (its HashJoin build
// side(s), or the child of an Aggregate/OrderBy that owns pipelineID).
func (p *PhysicalPlan) BlockingInputs(pipelineID int) []int {
	var ids []int
	// A pipeline's blocking inputs are exactly the pipelines whose sink was
	// created while lowering one of pipelineID's own operators, i.e. every
	// pipeline other than pipelineID whose first operator appears as a
	// Build/Child of an operator inside pipelineID.
	blockers := map[LogicalOp]bool{}
	for _, po := range p.Pipelines[pipelineID].Ops {
		switch o := po.Logical.(type) {
		case *LogicalHashJoin:
			blockers[o.Build] = true
		case *LogicalAggregate:
			blockers[o.Child] = true
		case *LogicalOrderBy:
			blockers[o.Child] = true
		}
	}
	for _, pipe := range p.Pipelines {
		if pipe.ID == pipelineID || len(pipe.Ops) == 0 {
			continue
		}
		if blockers[pipe.Ops[0].Logical] {
			ids = append(ids, pipe.ID)
		}
	}
	return ids
}
