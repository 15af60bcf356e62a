package service

import (
	"context"
	"errors"
	"fmt"

	"penaltydesk-backend/annotator"
	"penaltydesk-backend/models"
	"penaltydesk-backend/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrJobCreationFailed = errors.New("failed to create analysis job")
	ErrJobNotFound       = errors.New("analysis job not found")
)

// Job step names
const (
	StepQueryModel      = "Querying Steward Model"
	StepAnnotateVerdict = "Annotating Verdict"
	StepStructured      = "Requesting Structured Verdict"
	StepSaveAnalysis    = "Saving Analysis"
)

// SubmitJobRequest represents a request to analyse an incident asynchronously
type SubmitJobRequest struct {
	Prompt    string
	Mode      models.AnalysisMode
	LLMChoice string
}

// SubmitJobResult represents the result of submitting an analysis job
type SubmitJobResult struct {
	Job *models.AnalysisJob
}

// SubmitJob validates the request and creates a pending job without doing any model work.
// The caller runs ProcessJob, typically in a goroutine.
func (s *AnalysisService) SubmitJob(ctx context.Context, req SubmitJobRequest) (*SubmitJobResult, error) {
	if s.jobRepo == nil {
		return nil, errors.New("analysis job repository not set")
	}

	params, err := s.resolve(req.Prompt, req.Mode, req.LLMChoice)
	if err != nil {
		return nil, err
	}

	job := &models.AnalysisJob{
		ID:        uuid.New(),
		Prompt:    params.prompt,
		Mode:      params.mode,
		LLMChoice: params.llmChoice,
		Status:    models.JobStatusPending,
		Steps:     initializeSteps(params.mode),
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		s.logger.Error("failed to create analysis job", zap.Error(err))
		return nil, ErrJobCreationFailed
	}

	return &SubmitJobResult{Job: job}, nil
}

// GetJobStatus retrieves an analysis job
func (s *AnalysisService) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*models.AnalysisJob, error) {
	if s.jobRepo == nil {
		return nil, errors.New("analysis job repository not set")
	}

	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

func initializeSteps(mode models.AnalysisMode) models.AnalysisSteps {
	names := []string{StepQueryModel, StepAnnotateVerdict, StepSaveAnalysis}
	if mode == models.ModeStructured {
		names = []string{StepStructured, StepSaveAnalysis}
	}

	steps := make(models.AnalysisSteps, 0, len(names))
	for _, name := range names {
		steps = append(steps, models.AnalysisStep{Name: name, Status: models.StepPending})
	}
	return steps
}

// ProcessJob performs the analysis for a submitted job, recording progress per step
func (s *AnalysisService) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	if s.jobRepo == nil {
		return errors.New("analysis job repository not set")
	}
	if s.analysisRepo == nil {
		return errors.New("analysis repository not set")
	}

	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load analysis job: %w", err)
	}

	if err := s.jobRepo.UpdateStatus(ctx, jobID, models.JobStatusInProgress); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	params := analysisParams{prompt: job.Prompt, mode: job.Mode, llmChoice: job.LLMChoice}
	var verdict models.Verdict

	if job.Mode == models.ModeStructured {
		err = s.runStep(ctx, jobID, StepStructured, func() error {
			if s.analyzer == nil {
				return ErrStructuredUnavailable
			}
			verdict, err = s.verdictFor(ctx, params)
			return err
		})
		if err != nil {
			return err
		}
	} else {
		var reply string
		err = s.runStep(ctx, jobID, StepQueryModel, func() error {
			reply, err = s.queryReply(ctx, params)
			return err
		})
		if err != nil {
			return err
		}

		err = s.runStep(ctx, jobID, StepAnnotateVerdict, func() error {
			verdict = annotator.Annotate(job.Prompt, reply)
			s.metrics.AnalysisCompleted(string(job.Mode), string(verdict.PenaltySeverity))
			return nil
		})
		if err != nil {
			return err
		}
	}

	analysis := params.newAnalysis(verdict)
	err = s.runStep(ctx, jobID, StepSaveAnalysis, func() error {
		return s.analysisRepo.Create(ctx, analysis)
	})
	if err != nil {
		return err
	}

	if err := s.jobRepo.Complete(ctx, jobID, analysis.ID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info("analysis job completed",
		zap.String("job_id", jobID.String()),
		zap.String("analysis_id", analysis.ID.String()),
	)
	return nil
}

// runStep marks stepName in progress, runs fn, then marks it completed or fails the job
func (s *AnalysisService) runStep(ctx context.Context, jobID uuid.UUID, stepName string, fn func() error) error {
	if err := s.updateStepStatus(ctx, jobID, stepName, models.StepInProgress); err != nil {
		s.markJobFailed(ctx, jobID, "failed to update step: "+err.Error())
		return err
	}

	if err := fn(); err != nil {
		_ = s.updateStepStatus(ctx, jobID, stepName, models.StepFailed)
		s.markJobFailed(ctx, jobID, fmt.Sprintf("%s: %v", stepName, err))
		return err
	}

	if err := s.updateStepStatus(ctx, jobID, stepName, models.StepCompleted); err != nil {
		s.markJobFailed(ctx, jobID, "failed to update step: "+err.Error())
		return err
	}
	return nil
}

// updateStepStatus updates the status of a specific step in the job
func (s *AnalysisService) updateStepStatus(ctx context.Context, jobID uuid.UUID, stepName, status string) error {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	steps := job.Steps
	var currentStep string
	if job.CurrentStep != nil {
		currentStep = *job.CurrentStep
	}

	for i := range steps {
		if steps[i].Name == stepName {
			steps[i].Status = status
			if status == models.StepInProgress {
				currentStep = stepName
			}
			break
		}
	}

	return s.jobRepo.UpdateProgress(ctx, jobID, currentStep, steps)
}

// markJobFailed marks a job as failed with an error message
func (s *AnalysisService) markJobFailed(ctx context.Context, jobID uuid.UUID, errorMessage string) {
	if err := s.jobRepo.Fail(ctx, jobID, errorMessage); err != nil {
		s.logger.Error("failed to mark analysis job failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}
