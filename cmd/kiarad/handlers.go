package main

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kiara-project/kiara-go/cmd/kiarad/httperr"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/engine"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

type runJobRequest struct {
	ModuleType   string         `json:"module_type"`
	ModuleConfig map[string]any `json:"module_config,omitempty"`
	Inputs       map[string]string `json:"inputs"` // field -> value ref
}

type valueView struct {
	ID      string       `json:"id"`
	Hash    string       `json:"hash"`
	Schema  value.Schema `json:"schema"`
	Status  value.Status `json:"status"`
	Payload any          `json:"payload,omitempty"`
}

func toValueView(v *value.Value) valueView {
	return valueView{
		ID:      v.ID.String(),
		Hash:    v.Hash.String(),
		Schema:  v.Schema,
		Status:  v.Status,
		Payload: v.Payload(),
	}
}

type runJobResponse struct {
	JobHash string               `json:"job_hash"`
	Status  job.Status           `json:"status"`
	Outputs map[string]valueView `json:"outputs,omitempty"`
}

// PostJobHandler runs a job inline and returns its resolved outputs:
// build the request body, call into the domain, map the domain error
// onto an HTTP status.
func PostJobHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req runJobRequest
		if err := c.Bind(&req); err != nil {
			return httperr.BadRequest("malformed job request", err)
		}
		if req.ModuleType == "" {
			return httperr.BadRequest("module_type is required", nil)
		}

		inputs := make(module.ValueMap, len(req.Inputs))
		for field, ref := range req.Inputs {
			v, err := ctx.GetValue(ref)
			if err != nil {
				return httperr.BadRequest("input "+field+" does not resolve to a known value", err)
			}
			inputs[field] = v
		}

		manifest := module.Manifest{ModuleType: req.ModuleType, ModuleConfig: req.ModuleConfig}
		outputs, rec, err := ctx.RunJob(c.Request().Context(), manifest, inputs)
		if err != nil && rec == nil {
			return httperr.InternalServerError(err)
		}

		resp := runJobResponse{Status: rec.Status, Outputs: map[string]valueView{}}
		resp.JobHash = rec.JobHash.String()
		for field, v := range outputs {
			resp.Outputs[field] = toValueView(v)
		}
		if err != nil {
			return httperr.Conflict("job did not complete", err)
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func GetValueHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		ref := c.Param("ref")
		v, err := ctx.GetValue(ref)
		if err != nil {
			return httperr.NotFound("value not found: " + ref)
		}
		return c.JSON(http.StatusOK, toValueView(v))
	}
}

type storeValueRequest struct {
	Schema  value.Schema `json:"schema"`
	Payload any          `json:"payload"`
}

func PostValueHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req storeValueRequest
		if err := c.Bind(&req); err != nil {
			return httperr.BadRequest("malformed value request", err)
		}
		v, err := ctx.StoreValue(req.Schema, req.Payload, value.External("api"))
		if err != nil {
			return httperr.BadRequest("value does not satisfy its declared schema", err)
		}
		return c.JSON(http.StatusCreated, toValueView(v))
	}
}

func GetAliasHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		v, err := ctx.ResolveAlias(name)
		if err != nil {
			return httperr.NotFound("alias not found: " + name)
		}
		return c.JSON(http.StatusOK, toValueView(v))
	}
}

func GetJobHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		hash := encoding.Hash(c.Param("hash"))
		rec, ok, err := ctx.GetJobRecord(hash)
		if err != nil {
			return httperr.InternalServerError(err)
		}
		if !ok {
			return httperr.NotFound("job not found: " + hash.String())
		}
		return c.JSON(http.StatusOK, rec)
	}
}

func PostExportArchiveHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		blob, err := ctx.ExportArchive()
		if err != nil {
			return httperr.InternalServerError(err)
		}
		return c.Blob(http.StatusOK, "application/cbor", blob)
	}
}

func PostImportArchiveHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		blob, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return httperr.BadRequest("could not read request body", err)
		}
		if err := ctx.ImportArchive(blob); err != nil {
			return httperr.BadRequest("archive blob is malformed or incompatible", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func GetPipelinesHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, ctx.ListPipelines())
	}
}

type pipelineView struct {
	Name          string   `json:"name"`
	Doc           string   `json:"doc,omitempty"`
	Steps         []string `json:"steps"`
	InputFields   []string `json:"input_fields"`
	OutputAliases []string `json:"output_aliases"`
	Hash          string   `json:"hash"`
}

func GetPipelineHandler(ctx *engine.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		s, ok := ctx.GetPipeline(name)
		if !ok {
			return httperr.NotFound("pipeline not found: " + name)
		}
		view := pipelineView{Name: s.Name, Doc: s.Doc, Steps: s.StepOrder, Hash: s.Hash().String()}
		for field := range s.InputFields {
			view.InputFields = append(view.InputFields, field)
		}
		for alias := range s.OutputAliases {
			view.OutputAliases = append(view.OutputAliases, alias)
		}
		return c.JSON(http.StatusOK, view)
	}
}
