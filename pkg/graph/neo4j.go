package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jQuerier implements Querier against a Neo4j database. Entities
// are nodes with a unique "name" property; relation kinds are the
// relationship types.
type Neo4jQuerier struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jQuerier connects to Neo4j and verifies connectivity.
func NewNeo4jQuerier(ctx context.Context, uri, username, password, database string) (*Neo4jQuerier, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Neo4jQuerier{driver: driver, database: database}, nil
}

// Related returns all relations touching the named entity.
func (q *Neo4jQuerier) Related(ctx context.Context, entity string) ([]Relation, error) {
	const query = `
		MATCH (a {name: $name})-[r]-(b)
		RETURN a.name AS from, b.name AS to, type(r) AS kind, properties(r) AS props`
	return q.run(ctx, query, map[string]any{"name": entity})
}

// Between returns relations connecting two named entities.
func (q *Neo4jQuerier) Between(ctx context.Context, a, b string) ([]Relation, error) {
	const query = `
		MATCH (a {name: $a})-[r]-(b {name: $b})
		RETURN a.name AS from, b.name AS to, type(r) AS kind, properties(r) AS props`
	return q.run(ctx, query, map[string]any{"a": a, "b": b})
}

func (q *Neo4jQuerier) run(ctx context.Context, query string, params map[string]any) ([]Relation, error) {
	session := q.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: q.database,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session,
		func(tx neo4j.ManagedTransaction) ([]Relation, error) {
			result, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			var out []Relation
			for result.Next(ctx) {
				record := result.Record()
				relation := Relation{}
				if v, ok := record.Get("from"); ok {
					relation.From, _ = v.(string)
				}
				if v, ok := record.Get("to"); ok {
					relation.To, _ = v.(string)
				}
				if v, ok := record.Get("kind"); ok {
					relation.Kind, _ = v.(string)
				}
				if v, ok := record.Get("props"); ok {
					relation.Properties, _ = v.(map[string]any)
				}
				out = append(out, relation)
			}
			return out, result.Err()
		})
	if err != nil {
		return nil, fmt.Errorf("graph query: %w", err)
	}
	return records, nil
}

// Close releases the underlying driver.
func (q *Neo4jQuerier) Close(ctx context.Context) error {
	return q.driver.Close(ctx)
}
