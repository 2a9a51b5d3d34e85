package models

// Requests for the control HTTP API.

type AddSourceRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	ProbeURL string `json:"probe_url" validate:"required,url"`
}

type SourceRequest struct {
	ID string `param:"id" validate:"required"`
}

type RoundsRequest struct {
	ID     string `param:"id" validate:"required"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
	Stored bool   `query:"stored"`
}

type BotRequest struct {
	ID string `param:"id" validate:"required"`
}

type BotHistoryRequest struct {
	ID    string `param:"id" validate:"required"`
	Limit int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}
