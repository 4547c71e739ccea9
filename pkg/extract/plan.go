package extract

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/convert"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/gaql"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/resources"
	"github.com/ajitpratap0/adsync/pkg/window"
)

// Plan is the set of queries one extraction executes, in order
type Plan struct {
	Resource   resources.Resource
	CustomerID string
	Fields     []string
	// Schema is the column layout of the produced records
	Schema  models.Schema
	Queries []gaql.Query
}

// Strings renders every query
func (p *Plan) Strings() []string {
	out := make([]string, len(p.Queries))
	for i, q := range p.Queries {
		out[i] = q.String()
	}
	return out
}

// Plan resolves the resource and renders its queries without executing them.
// Schema errors come back unchanged so callers can tell a missing definition
// from a malformed one.
func (d *Driver) Plan(name string, rc RunContext) (*Plan, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	res, err := d.catalog.Get(name)
	if err != nil {
		return nil, err
	}

	sch, err := d.schema(res)
	if err != nil {
		return nil, err
	}
	fields := make([]string, len(sch.Fields))
	for i, f := range sch.Fields {
		fields[i] = f.Name
	}

	var opts []gaql.Option
	if res.OrderBy != "" {
		opts = append(opts, gaql.OrderBy(res.OrderBy))
	}
	if res.Limit > 0 {
		opts = append(opts, gaql.Limit(res.Limit))
	}

	plan := &Plan{Resource: res, CustomerID: rc.CustomerID, Fields: fields, Schema: sch}
	for _, conditions := range d.windows(res, rc) {
		qopts := append([]gaql.Option{gaql.Where(conditions...)}, opts...)
		plan.Queries = append(plan.Queries, gaql.New(fields, res.Table, qopts...))
	}

	d.logger.Debug("planned resource",
		zap.String("resource", res.Name),
		zap.String("policy", string(res.Policy)),
		zap.Bool("first_run", rc.FirstRun),
		zap.Int("queries", len(plan.Queries)))
	return plan, nil
}

func (d *Driver) schema(res resources.Resource) (models.Schema, error) {
	if !res.UsesSchema() {
		return staticSchema(res), nil
	}
	if d.registry == nil {
		return models.Schema{}, errors.New(errors.ErrorTypeConfig, "no schema registry configured")
	}
	def, err := d.registry.Get(res.Name)
	if err != nil {
		return models.Schema{}, err
	}
	if len(def.Fields) == 0 {
		return models.Schema{}, errors.Newf(errors.ErrorTypeMalformed, "schema %s declares no fields", res.Name).
			WithDetail("filename", def.File)
	}
	return def.Schema(), nil
}

// staticSchema types every static field as a string. Projected resources
// drop the projected prefix from their columns.
func staticSchema(res resources.Resource) models.Schema {
	sch := models.Schema{Name: res.Name}
	prefix := ""
	if res.Project != "" {
		prefix = convert.Column(res.Project) + convert.Separator
	}
	for _, f := range res.StaticFields {
		sch.Fields = append(sch.Fields, models.Field{
			Name:   f,
			Column: strings.TrimPrefix(convert.Column(f), prefix),
			Type:   "string",
		})
	}
	return sch
}

// windows returns the condition list of each query. Fixed resources run a
// single query; sliced resources run one per day.
func (d *Driver) windows(res resources.Resource, rc RunContext) [][]string {
	switch res.Policy {
	case window.PolicyDailySlices:
		lookback := res.LookbackDays
		if rc.LookbackDays > 0 {
			lookback = rc.LookbackDays
		}
		if lookback <= 0 {
			lookback = window.DefaultLookbackDays
		}
		slices := d.planner.ComputeSlices(rc.StartDate, rc.FirstRun, lookback)
		out := make([][]string, 0, len(slices))
		for _, c := range slices.Conditions() {
			out = append(out, []string{c})
		}
		return out
	case window.PolicyFixed:
		return [][]string{res.Conditions}
	default:
		r := d.planner.ComputeRange(rc.StartDate, rc.ConversionWindowDays, rc.FirstRun)
		return [][]string{{r.Condition()}}
	}
}
