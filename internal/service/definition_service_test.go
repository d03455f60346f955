package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/flowline/internal/model"
)

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.definitions.Validate(approvalDefinition("acme")))
}

func TestValidateRejections(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name   string
		mutate func(*model.WorkflowDefinition)
	}{
		{"missing tenant", func(d *model.WorkflowDefinition) { d.TenantID = "" }},
		{"missing name", func(d *model.WorkflowDefinition) { d.Name = "" }},
		{"no states", func(d *model.WorkflowDefinition) { d.States = nil }},
		{"duplicate state id", func(d *model.WorkflowDefinition) {
			d.States = append(d.States, model.State{ID: "draft"})
		}},
		{"missing initial state", func(d *model.WorkflowDefinition) { d.InitialState = "" }},
		{"unknown initial state", func(d *model.WorkflowDefinition) { d.InitialState = "ghost" }},
		{"duplicate transition id", func(d *model.WorkflowDefinition) {
			d.Transitions = append(d.Transitions, model.Transition{ID: "submit", From: "draft", To: "approved"})
		}},
		{"unknown from-state", func(d *model.WorkflowDefinition) {
			d.Transitions[0].From = "ghost"
		}},
		{"unknown to-state", func(d *model.WorkflowDefinition) {
			d.Transitions[0].To = "ghost"
		}},
		{"unreachable state", func(d *model.WorkflowDefinition) {
			d.States = append(d.States, model.State{ID: "island"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := approvalDefinition("acme")
			tt.mutate(def)
			err := e.definitions.Validate(def)
			var validation *model.ValidationError
			require.ErrorAs(t, err, &validation)
		})
	}
}

func TestValidatePermitsCycles(t *testing.T) {
	e := newTestEngine(t)
	// approvalDefinition already loops via reject: submitted -> draft.
	def := approvalDefinition("acme")
	assert.NoError(t, e.definitions.Validate(def))
}

func TestPublishVersioning(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	v1, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, model.DefinitionStatusActive, v1.Status)
	assert.NotEmpty(t, v1.ID)

	v2, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.ID, "republish keeps the lineage id")

	// The active version is now v2; v1 stays retrievable by pin.
	active, err := e.definitions.GetActive(ctx, "acme", "approval")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	pinned, err := e.definitions.GetVersion(ctx, "acme", v1.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, pinned.Version)
	assert.Equal(t, model.DefinitionStatusArchived, pinned.Status)
}

func TestPublishRejectsInvalid(t *testing.T) {
	e := newTestEngine(t)
	def := approvalDefinition("acme")
	def.InitialState = "ghost"

	_, err := e.definitions.Publish(context.Background(), def)
	var validation *model.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestDefinitionsAreTenantScoped(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	v1, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)

	_, err = e.definitions.GetVersion(ctx, "rival", v1.ID, 1)
	var notFound *model.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = e.definitions.GetActive(ctx, "rival", "approval")
	require.ErrorAs(t, err, &notFound)
}
