package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				pipeline_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('contact_created', 'stage_changed', 'tag_added', 'tag_removed', 'form_submitted')),
				trigger_filter JSONB,
				is_active BOOLEAN NOT NULL DEFAULT false,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_match ON workflows(organization_id, pipeline_id, trigger_type) WHERE is_active;
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_steps (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				step_type VARCHAR(50) NOT NULL CHECK (step_type IN ('send_email', 'move_stage', 'add_tag', 'remove_tag', 'webhook', 'delay', 'condition')),
				config JSONB NOT NULL DEFAULT '{}',
				position INT NOT NULL DEFAULT 0,
				next_step_id VARCHAR(255) NOT NULL DEFAULT '',
				true_step_id VARCHAR(255) NOT NULL DEFAULT '',
				false_step_id VARCHAR(255) NOT NULL DEFAULT '',
				PRIMARY KEY (workflow_id, id)
			);
		`,
		2: `
			-- Runs outlive their workflow so execution history survives deletion.
			CREATE TABLE workflow_runs (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				triggering_event JSONB NOT NULL,
				dedup_key VARCHAR(512) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'waiting', 'completed', 'failed', 'cancelled')),
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				resume_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_workflow_runs_dedup ON workflow_runs(workflow_id, contact_id, dedup_key);
			CREATE INDEX idx_workflow_runs_workflow ON workflow_runs(workflow_id, started_at DESC);
			CREATE INDEX idx_workflow_runs_contact ON workflow_runs(contact_id) WHERE status IN ('pending', 'running', 'waiting');
			CREATE INDEX idx_workflow_runs_due ON workflow_runs(resume_at) WHERE status = 'waiting';

			CREATE TABLE step_logs (
				seq BIGSERIAL PRIMARY KEY,
				id UUID NOT NULL UNIQUE,
				run_id UUID NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'waiting', 'completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				resume_at TIMESTAMP WITH TIME ZONE,
				result JSONB,
				error TEXT NOT NULL DEFAULT '',
				retry_count INT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_step_logs_run ON step_logs(run_id, seq);
			CREATE INDEX idx_step_logs_run_step ON step_logs(run_id, step_id, seq DESC);
		`,
	}
}
