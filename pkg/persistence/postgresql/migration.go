package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflows table
			CREATE TABLE workflows (
				id VARCHAR(64) PRIMARY KEY,
				shop_id VARCHAR(64) NOT NULL,
				staff_id VARCHAR(64) NOT NULL DEFAULT '',
				title VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB,
				action_type VARCHAR(50) NOT NULL,
				action_config JSONB,
				filters JSONB NOT NULL DEFAULT '{}',
				is_active BOOLEAN NOT NULL DEFAULT false,
				execution_count BIGINT NOT NULL DEFAULT 0,
				success_count BIGINT NOT NULL DEFAULT 0,
				failure_count BIGINT NOT NULL DEFAULT 0,
				last_executed_at TIMESTAMP WITH TIME ZONE,
				next_scheduled_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_shop_trigger ON workflows(shop_id, trigger_type);
			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type);
			CREATE INDEX idx_workflows_next_scheduled_at ON workflows(next_scheduled_at) WHERE is_active AND deleted_at IS NULL;
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);
		`,
		2: `
			-- Create workflow_executions table
			CREATE TABLE workflow_executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflows(id),
				shop_id VARCHAR(64) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('SCHEDULED', 'RUNNING', 'COMPLETED', 'FAILED')),
				source VARCHAR(20) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				customer_id VARCHAR(64) NOT NULL DEFAULT '',
				target_count INTEGER NOT NULL DEFAULT 0,
				success_count INTEGER NOT NULL DEFAULT 0,
				failure_count INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id, started_at DESC);
			CREATE INDEX idx_workflow_executions_shop_id ON workflow_executions(shop_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
		`,
		3: `
			-- Create workflow_deliveries table
			CREATE TABLE workflow_deliveries (
				workflow_id VARCHAR(64) NOT NULL REFERENCES workflows(id),
				delivery_day DATE NOT NULL,
				customer_id VARCHAR(64) NOT NULL,
				claimed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, delivery_day, customer_id)
			);
		`,
	}
}
