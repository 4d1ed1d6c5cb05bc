package store

// coreSchemaStatements is the v1 schema, applied once inside the
// migration transaction in store.go. Table names and columns follow the
// logical layout: goals, tasks, task_dependencies, agent_templates,
// memories, worktrees, events, refinement_requests, audit_log.
var coreSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK(status IN ('ACTIVE','PAUSED','RETIRED')),
		priority TEXT NOT NULL CHECK(priority IN ('LOW','NORMAL','HIGH','CRITICAL')),
		constraints_json TEXT NOT NULL DEFAULT '[]',
		parent_id TEXT REFERENCES goals(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_convergence_check_at DATETIME
	);`,
	`CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);`,

	`CREATE TABLE IF NOT EXISTS agent_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tier TEXT NOT NULL CHECK(tier IN ('META','STRATEGIC','EXECUTION','SPECIALIST')),
		version INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		system_prompt TEXT NOT NULL,
		tools_json TEXT NOT NULL DEFAULT '[]',
		constraints_json TEXT NOT NULL DEFAULT '[]',
		handoff_targets_json TEXT NOT NULL DEFAULT '[]',
		max_turns INTEGER NOT NULL DEFAULT 10,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(name, version)
	);`,
	// Enforced in application code (SQLite partial unique indexes on a
	// boolean column work, but the cross-row invariant "at most one
	// is_active per name" is checked transactionally in templates.go so
	// the error path can be a typed Conflict rather than a raw SQL error.
	`CREATE INDEX IF NOT EXISTS idx_agent_templates_name_active ON agent_templates(name, is_active);`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		parent_id TEXT REFERENCES tasks(id),
		goal_id TEXT REFERENCES goals(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		calculated_priority REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK(status IN ('PENDING','BLOCKED','READY','RUNNING','COMPLETE','FAILED','CANCELLED')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		deadline DATETIME,
		estimated_duration_ms INTEGER,
		submitted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		started_at DATETIME,
		completed_at DATETIME,
		feature_branch TEXT NOT NULL DEFAULT '',
		task_branch TEXT NOT NULL DEFAULT '',
		worktree_path TEXT NOT NULL DEFAULT '',
		dependency_depth INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL CHECK(source IN ('HUMAN','AGENT_REQUIREMENTS','AGENT_PLANNER','AGENT_IMPLEMENTATION')),
		task_type TEXT NOT NULL DEFAULT 'STANDARD' CHECK(task_type IN ('STANDARD','VERIFICATION','RESEARCH','REVIEW')),
		summary TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		template_name TEXT NOT NULL DEFAULT '',
		template_version INTEGER NOT NULL DEFAULT 0,
		last_heartbeat_at DATETIME,
		external_source TEXT,
		external_id TEXT,
		UNIQUE(external_source, external_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_ready_order ON tasks(status, calculated_priority DESC, submitted_at ASC);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_goal ON tasks(goal_id);`,

	`CREATE TABLE IF NOT EXISTS task_dependencies (
		prerequisite_id TEXT NOT NULL REFERENCES tasks(id),
		dependent_id TEXT NOT NULL REFERENCES tasks(id),
		kind TEXT NOT NULL CHECK(kind IN ('SEQUENTIAL','PARALLEL')),
		PRIMARY KEY(prerequisite_id, dependent_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_deps_dependent ON task_dependencies(dependent_id);`,
	`CREATE INDEX IF NOT EXISTS idx_deps_prerequisite ON task_dependencies(prerequisite_id);`,

	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		tier TEXT NOT NULL CHECK(tier IN ('WORKING','EPISODIC','SEMANTIC')),
		confidence REAL NOT NULL DEFAULT 1.0,
		access_count INTEGER NOT NULL DEFAULT 0,
		distinct_accessors_json TEXT NOT NULL DEFAULT '[]',
		decay_rate REAL NOT NULL DEFAULT 0.01,
		state TEXT NOT NULL DEFAULT 'ACTIVE' CHECK(state IN ('ACTIVE','COOLING','ARCHIVED')),
		version INTEGER NOT NULL DEFAULT 1,
		parent_id TEXT REFERENCES memories(id),
		provenance TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(namespace, key, tier)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace, state);`,

	`CREATE TABLE IF NOT EXISTS worktrees (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		path TEXT NOT NULL,
		branch TEXT NOT NULL,
		base_ref TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('ACTIVE','MERGED','ORPHANED','FAILED'))
	);`,
	`CREATE INDEX IF NOT EXISTS idx_worktrees_task ON worktrees(task_id);`,

	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		payload_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id, id);`,
	`CREATE INDEX IF NOT EXISTS idx_events_category ON events(category, id);`,

	`CREATE TABLE IF NOT EXISTS refinement_requests (
		id TEXT PRIMARY KEY,
		template_name TEXT NOT NULL,
		from_version INTEGER NOT NULL,
		to_version INTEGER,
		kind TEXT NOT NULL CHECK(kind IN ('MINOR','MAJOR','REVERT')),
		status TEXT NOT NULL CHECK(status IN ('PENDING','IN_PROGRESS','COMPLETED','FAILED')),
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_refinements_open ON refinement_requests(template_name, status);`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	);`,

	`CREATE TABLE IF NOT EXISTS outcome_windows (
		template_name TEXT NOT NULL,
		template_version INTEGER NOT NULL,
		correlation_id TEXT NOT NULL,
		payload_type TEXT NOT NULL,
		succeeded INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(template_name, template_version, correlation_id, payload_type)
	);`,

	`CREATE TABLE IF NOT EXISTS ingestion_items (
		source TEXT NOT NULL,
		external_id TEXT NOT NULL,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(source, external_id)
	);`,

	`CREATE TABLE IF NOT EXISTS convergence_strategy_priors (
		goal_id TEXT NOT NULL REFERENCES goals(id),
		strategy TEXT NOT NULL CHECK(strategy IN ('THRESHOLD','STABILITY','TEST_PASS','JUDGE')),
		alpha REAL NOT NULL DEFAULT 1.0,
		beta REAL NOT NULL DEFAULT 1.0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(goal_id, strategy)
	);`,

	`CREATE TABLE IF NOT EXISTS convergence_trajectories (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		goal_id TEXT NOT NULL REFERENCES goals(id),
		iteration INTEGER NOT NULL,
		strategy TEXT NOT NULL CHECK(strategy IN ('THRESHOLD','STABILITY','TEST_PASS','JUDGE')),
		attempt_branch TEXT NOT NULL DEFAULT '',
		diff_size INTEGER NOT NULL DEFAULT 0,
		tests_passed INTEGER NOT NULL DEFAULT 0,
		classification TEXT NOT NULL DEFAULT '' CHECK(classification IN ('','FIXED_POINT','LIMIT_CYCLE','CHAOTIC','DIVERGING')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_trajectories_task ON convergence_trajectories(task_id, iteration);`,
}
