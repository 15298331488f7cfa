package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    summary TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(tenant_id, started_at);
`

// Score rows keep their report row index so reads return the sorted order.
const schemaClaimScores = `
CREATE TABLE IF NOT EXISTS claim_scores (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    tenant_id TEXT NOT NULL,
    row_index INTEGER NOT NULL,
    claim_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    is_outlier INTEGER NOT NULL DEFAULT 0,
    anomaly_reasons TEXT NOT NULL,
    PRIMARY KEY (run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_claim_scores_tenant ON claim_scores(tenant_id, run_id);
CREATE INDEX IF NOT EXISTS idx_claim_scores_claim ON claim_scores(tenant_id, claim_id);
`

const schemaCustomerScores = `
CREATE TABLE IF NOT EXISTS customer_scores (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    tenant_id TEXT NOT NULL,
    row_index INTEGER NOT NULL,
    customer_id TEXT NOT NULL,
    lifetime_value REAL NOT NULL,
    loss_ratio REAL NOT NULL,
    risk_score REAL NOT NULL,
    segment TEXT NOT NULL,
    PRIMARY KEY (run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_customer_scores_tenant ON customer_scores(tenant_id, run_id);
CREATE INDEX IF NOT EXISTS idx_customer_scores_segment ON customer_scores(tenant_id, segment);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    tag TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    rule_order INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaClaimScores,
		schemaCustomerScores,
		schemaRuleConfigs,
	}
}
