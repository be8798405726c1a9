package sqlite

// schemaVersion is bumped whenever the schema below changes shape.
const schemaVersion = "1"

const schema = `
-- Plans table
CREATE TABLE IF NOT EXISTS plans (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('draft', 'active', 'done')),
    base_rev TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Steps table
CREATE TABLE IF NOT EXISTS steps (
    plan_id TEXT NOT NULL,
    anchor TEXT NOT NULL,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'claimed', 'in_progress', 'completed')),
    claimant TEXT,
    lease_expires_at DATETIME,
    started_at DATETIME,
    completed_at DATETIME,
    evidence TEXT,
    force_reason TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (plan_id, anchor),
    FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE,
    -- completed steps carry a completion timestamp, nothing else does
    CHECK (
        (status = 'completed' AND completed_at IS NOT NULL) OR
        (status != 'completed' AND completed_at IS NULL)
    ),
    -- a lease exists exactly while a step is held
    CHECK (
        (status IN ('claimed', 'in_progress') AND claimant IS NOT NULL) OR
        (status NOT IN ('claimed', 'in_progress') AND claimant IS NULL AND lease_expires_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_steps_status ON steps(plan_id, status);
CREATE INDEX IF NOT EXISTS idx_steps_lease ON steps(plan_id, lease_expires_at);

-- Dependency edges (step depends on another step of the same plan)
CREATE TABLE IF NOT EXISTS step_dependencies (
    plan_id TEXT NOT NULL,
    step_anchor TEXT NOT NULL,
    depends_on_anchor TEXT NOT NULL,
    PRIMARY KEY (plan_id, step_anchor, depends_on_anchor),
    FOREIGN KEY (plan_id, step_anchor) REFERENCES steps(plan_id, anchor) ON DELETE CASCADE,
    FOREIGN KEY (plan_id, depends_on_anchor) REFERENCES steps(plan_id, anchor) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON step_dependencies(plan_id, depends_on_anchor);

-- Checklist items. The (kind, ordinal) set per step is fixed at
-- registration; rows are updated in place, never added or removed
-- outside reconciliation.
CREATE TABLE IF NOT EXISTS checklist_items (
    plan_id TEXT NOT NULL,
    step_anchor TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('task', 'test', 'checkpoint')),
    ordinal INTEGER NOT NULL CHECK(ordinal >= 1),
    text TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'in_progress', 'completed', 'deferred')),
    reason TEXT NOT NULL DEFAULT '',
    reconcile_reason TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (plan_id, step_anchor, kind, ordinal),
    FOREIGN KEY (plan_id, step_anchor) REFERENCES steps(plan_id, anchor) ON DELETE CASCADE,
    -- deferral always carries a reason; open work never does; completed
    -- items carry one only on the force-complete path
    CHECK (
        (status = 'deferred' AND reason != '') OR
        (status IN ('open', 'in_progress') AND reason = '') OR
        (status = 'completed')
    )
);

CREATE INDEX IF NOT EXISTS idx_items_status ON checklist_items(plan_id, step_anchor, status);

-- Events table (audit trail)
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id TEXT NOT NULL,
    step_anchor TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT NOT NULL DEFAULT '',
    new_value TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    correlation_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_plan ON events(plan_id, created_at);

-- Metadata table (schema version and store-internal state)
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
