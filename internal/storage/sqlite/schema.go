package sqlite

const schema = `
-- Tasks table
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    parent_id TEXT REFERENCES tasks(id),
    title TEXT NOT NULL CHECK(length(title) <= 200),
    description TEXT CHECK(description IS NULL OR length(description) <= 1000),
    status TEXT NOT NULL DEFAULT 'pending',
    priority_score INTEGER NOT NULL DEFAULT 50 CHECK(priority_score >= 0 AND priority_score <= 100),
    prd TEXT,
    context_digest TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    -- parent_id is NULL only for the synthetic project root
    CHECK (parent_id IS NOT NULL OR id = '__PROJECT_ROOT__')
);

CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

-- Dependencies table
CREATE TABLE IF NOT EXISTS task_dependencies (
    id TEXT PRIMARY KEY,
    dependent_task_id TEXT NOT NULL,
    dependency_task_id TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (dependent_task_id, dependency_task_id),
    CHECK (dependent_task_id != dependency_task_id),
    FOREIGN KEY (dependent_task_id) REFERENCES tasks(id) ON DELETE CASCADE,
    FOREIGN KEY (dependency_task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_deps_dependent ON task_dependencies(dependent_task_id);
CREATE INDEX IF NOT EXISTS idx_deps_dependency ON task_dependencies(dependency_task_id);

-- Context slices table
CREATE TABLE IF NOT EXISTS context_slices (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    context_type TEXT NOT NULL DEFAULT 'general',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_slices_task ON context_slices(task_id);
CREATE INDEX IF NOT EXISTS idx_slices_created_at ON context_slices(created_at);

-- Metadata table (schema version, default actor, internal state)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Synthetic project root: always present, parent of all top-level tasks
INSERT OR IGNORE INTO tasks (id, parent_id, title, description, status, priority_score)
VALUES ('__PROJECT_ROOT__', NULL, 'Project Root', 'Synthetic root of the task hierarchy', 'pending', 0);
`
