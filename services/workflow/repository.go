package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles workflow, credential and execution persistence in
// PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// InitSchema creates the tables if they do not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			nodes       JSONB NOT NULL DEFAULT '[]',
			edges       JSONB NOT NULL DEFAULT '[]',
			settings    JSONB NOT NULL DEFAULT '{}',
			static_data JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS credentials (
			id   TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			data JSONB NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS executions (
			id          UUID PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			mode        TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			stopped_at  TIMESTAMPTZ NOT NULL,
			data        JSONB NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Seed inserts the sample weather-alert workflow if it does not already exist.
func (r *Repository) Seed(ctx context.Context) error {
	nodesJSON, err := json.Marshal(sampleNodes)
	if err != nil {
		return fmt.Errorf("marshal seed nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(sampleEdges)
	if err != nil {
		return fmt.Errorf("marshal seed edges: %w", err)
	}
	settingsJSON, err := json.Marshal(Settings{ExecutionOrder: ExecutionOrderV1})
	if err != nil {
		return fmt.Errorf("marshal seed settings: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO workflows (id, name, nodes, edges, settings)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, sampleWorkflowID, "Weather Alert Workflow", nodesJSON, edgesJSON, settingsJSON)
	if err != nil {
		return fmt.Errorf("seed workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, id string) (*Workflow, error) {
	var wf Workflow
	var nodesJSON, edgesJSON, settingsJSON, staticJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, name, nodes, edges, settings, static_data, created_at, updated_at
		FROM workflows WHERE id = $1
	`, id).Scan(&wf.ID, &wf.Name, &nodesJSON, &edgesJSON, &settingsJSON, &staticJSON,
		&wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edgesJSON, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	if err := json.Unmarshal(settingsJSON, &wf.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := json.Unmarshal(staticJSON, &wf.StaticData); err != nil {
		return nil, fmt.Errorf("unmarshal static data: %w", err)
	}
	return &wf, nil
}

// SaveStaticData stores the static data a run left behind.
func (r *Repository) SaveStaticData(ctx context.Context, id string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	staticJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal static data: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		UPDATE workflows SET static_data = $2, updated_at = NOW() WHERE id = $1
	`, id, staticJSON)
	if err != nil {
		return fmt.Errorf("save static data: %w", err)
	}
	return nil
}

// SaveExecution stores an execution record.
func (r *Repository) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	dataJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, mode, status, started_at, stopped_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stopped_at = EXCLUDED.stopped_at,
			data = EXCLUDED.data
	`, rec.ID, rec.WorkflowID, string(rec.Mode), string(rec.Status),
		rec.StartedAt, rec.StoppedAt, dataJSON)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution record. Returns nil, nil if not found.
func (r *Repository) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	var dataJSON []byte
	err := r.db.QueryRow(ctx, `SELECT data FROM executions WHERE id = $1`, id).Scan(&dataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal(dataJSON, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &rec, nil
}

// SaveCredential stores or replaces a credential.
func (r *Repository) SaveCredential(
	ctx context.Context, id, credType, name string, data map[string]any,
) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO credentials (id, type, name, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, name = EXCLUDED.name, data = EXCLUDED.data
	`, id, credType, name, dataJSON)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Credentials returns a CredentialStore reading the credentials table.
func (r *Repository) Credentials() CredentialStore {
	return credentialTable{db: r.db}
}

type credentialTable struct {
	db *pgxpool.Pool
}

func (c credentialTable) Get(ctx context.Context, ref CredentialRef) (map[string]any, error) {
	var dataJSON []byte
	err := c.db.QueryRow(ctx, `SELECT data FROM credentials WHERE id = $1`, ref.ID).Scan(&dataJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCredentialLookup, ref.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(dataJSON, &data); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	return data, nil
}

// InitDB creates the schema and seeds initial data. Called from main on startup.
func InitDB(ctx context.Context, pool *pgxpool.Pool) error {
	repo := NewRepository(pool)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}
	return repo.Seed(ctx)
}

func millis(n int) *int {
	return &n
}

const sampleWorkflowID = "550e8400-e29b-41d4-a716-446655440000"

var sampleNodes = []Node{
	{
		ID: "start", Name: "Start", Type: "manualTrigger",
		Position: Position{X: -160, Y: 300},
	},
	{
		ID: "form", Name: "User Input", Type: "set",
		Position: Position{X: 152, Y: 304},
		Parameters: map[string]any{
			"values": map[string]any{
				"city":        "={{ $json.city }}",
				"submittedAt": "={{ $now.toISO() }}",
			},
		},
	},
	{
		ID: "weather-api", Name: "Weather API", Type: "weather",
		Position:         Position{X: 460, Y: 304},
		RetryOnFail:      true,
		MaxTries:         3,
		WaitBetweenTries: millis(500),
		Parameters: map[string]any{
			"city":        "={{ $json.city }}",
			"apiEndpoint": openMeteoEndpoint,
			"options": []any{
				map[string]any{"city": "Sydney", "lat": -33.8688, "lon": 151.2093},
				map[string]any{"city": "Melbourne", "lat": -37.8136, "lon": 144.9631},
				map[string]any{"city": "Brisbane", "lat": -27.4698, "lon": 153.0251},
				map[string]any{"city": "Perth", "lat": -31.9505, "lon": 115.8605},
				map[string]any{"city": "Adelaide", "lat": -34.9285, "lon": 138.6007},
			},
		},
	},
	{
		ID: "condition", Name: "Check Condition", Type: "if",
		Position: Position{X: 794, Y: 304},
		Parameters: map[string]any{
			"conditions": []any{
				map[string]any{
					"value1":    "={{ $json.temperature }}",
					"operation": "={{ $json.condition.operator }}",
					"value2":    "={{ $json.condition.threshold }}",
				},
			},
		},
	},
	{
		ID: "email", Name: "Send Alert", Type: "emailDraft",
		Position: Position{X: 1096, Y: 88},
		Parameters: map[string]any{
			"to":      "={{ $json.email }}",
			"subject": "Weather Alert",
			"body":    "=Weather alert for {{ $json.city }}! Temperature is {{ $json.temperature }}°C!",
		},
	},
	{
		ID: "end", Name: "Complete", Type: "noOp",
		Position: Position{X: 1360, Y: 302},
	},
}

var sampleEdges = []Edge{
	{ID: "e1", Source: "start", Target: "form", Type: "smoothstep", Animated: true, Style: map[string]any{"stroke": "#10b981", "strokeWidth": 3}, Label: "Initialize"},
	{ID: "e2", Source: "form", Target: "weather-api", Type: "smoothstep", Animated: true, Style: map[string]any{"stroke": "#3b82f6", "strokeWidth": 3}, Label: "Submit Data"},
	{ID: "e3", Source: "weather-api", Target: "condition", Type: "smoothstep", Animated: true, Style: map[string]any{"stroke": "#f97316", "strokeWidth": 3}, Label: "Temperature Data"},
	{ID: "e4", Source: "condition", Target: "email", Type: "smoothstep", SourceHandle: "output-0", Animated: true, Style: map[string]any{"stroke": "#10b981", "strokeWidth": 3}, Label: "✓ Condition Met", LabelStyle: map[string]any{"fill": "#10b981", "fontWeight": "bold"}},
	{ID: "e5", Source: "condition", Target: "end", Type: "smoothstep", SourceHandle: "output-1", Animated: true, Style: map[string]any{"stroke": "#6b7280", "strokeWidth": 3}, Label: "✗ No Alert Needed", LabelStyle: map[string]any{"fill": "#6b7280", "fontWeight": "bold"}},
	{ID: "e6", Source: "email", Target: "end", Type: "smoothstep", Animated: true, Style: map[string]any{"stroke": "#ef4444", "strokeWidth": 2}, Label: "Alert Sent", LabelStyle: map[string]any{"fill": "#ef4444", "fontWeight": "bold"}},
}
