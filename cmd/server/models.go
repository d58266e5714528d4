package main

import (
	"github.com/liamcoop/screener/catalog"
	"github.com/liamcoop/screener/screener"
)

// API Request and Response Models

// EvaluateDefinitionRequest represents the request body for evaluating an inline definition
type EvaluateDefinitionRequest struct {
	Definition *screener.Definition `json:"definition" binding:"required"`
	Answers    screener.AnswerSet   `json:"answers"`
} // @name EvaluateDefinitionRequest

// EvaluateRequest represents the request body for evaluating a published screener version
type EvaluateRequest struct {
	Answers screener.AnswerSet `json:"answers"`
} // @name EvaluateRequest

// BatchEvaluateRequest represents the request body for evaluating many sessions at once
type BatchEvaluateRequest struct {
	Sessions []EvaluateRequest `json:"sessions" binding:"required"`
} // @name BatchEvaluateRequest

// EvaluationResponse represents the outcome of one evaluation
type EvaluationResponse struct {
	EvaluationID     string                `json:"evaluationId" example:"123e4567-e89b-12d3-a456-426614174000"`
	Outcome          screener.Outcome      `json:"outcome" example:"ok_to_use"`
	MatchedRule      *screener.MatchedRule `json:"matchedRule,omitempty"`
	MissingRequired  []string              `json:"missingRequired,omitempty" example:"q1,q5_ldl"`
	ValidationErrors map[string]string     `json:"validationErrors,omitempty"`
	Undetermined     bool                  `json:"undetermined" example:"false"`
	Summary          string                `json:"summary"`
	EvaluationTime   string                `json:"evaluationTime,omitempty" example:"45.2µs"`
} // @name EvaluationResponse

// BatchEvaluateResponse represents results in the order the sessions were sent
type BatchEvaluateResponse struct {
	Results        []EvaluationResponse `json:"results"`
	EvaluationTime string               `json:"evaluationTime" example:"1.3ms"`
} // @name BatchEvaluateResponse

// ScreenersListResponse represents the published screener versions being served
type ScreenersListResponse struct {
	Screeners []catalog.Key `json:"screeners"`
} // @name ScreenersListResponse

// LintRequest represents the request body for checking a definition
type LintRequest struct {
	Definition *screener.Definition `json:"definition" binding:"required"`
} // @name LintRequest

// LintResponse represents the issues found in a definition
type LintResponse struct {
	Valid  bool                 `json:"valid" example:"true"`
	Issues []screener.LintIssue `json:"issues"`
} // @name LintResponse

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"screener version not found"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status          string            `json:"status" example:"healthy"`
	ScreenersLoaded int               `json:"screenersLoaded" example:"3"`
	Checks          map[string]string `json:"checks,omitempty"`
} // @name HealthResponse
