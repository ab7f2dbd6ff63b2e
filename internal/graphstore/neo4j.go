package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/recallgraph/recalld/internal/fingerprint"
	"github.com/recallgraph/recalld/internal/models"
)

const neo4jConnectTimeout = 10 * time.Second

// Neo4jStore implements Store against a Neo4j (or Bolt-compatible, e.g.
// Memgraph) server. Every node and edge carries the scope hash so scopes
// never leak into each other.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	dbName string
	logger *slog.Logger
}

// NewNeo4jStore connects to the graph server and verifies connectivity.
func NewNeo4jStore(uri, user, password, dbName string, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver for %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), neo4jConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connection at %s: %w", uri, err)
	}

	logger.Info("connected to graph store", "uri", uri, "database", dbName)
	return &Neo4jStore{driver: driver, dbName: dbName, logger: logger}, nil
}

func (n *Neo4jStore) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, n.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.dbName))
}

// MergeEntity creates the scoped entity node if missing.
func (n *Neo4jStore) MergeEntity(ctx context.Context, scope models.Scope, name string) error {
	_, err := n.run(ctx,
		`MERGE (e:Entity {scope: $scope, name: $name})
		 ON CREATE SET e.created_at = datetime()`,
		map[string]any{"scope": fingerprint.ScopeHash(scope), "name": name})
	if err != nil {
		return fmt.Errorf("merging entity %q: %w", name, err)
	}
	return nil
}

// MergeRelation creates the typed edge and the record reference nodes. The
// relation type is stored as an edge property rather than a dynamic label so
// the cypher stays parameterized.
func (n *Neo4jStore) MergeRelation(ctx context.Context, scope models.Scope, src, rel, dst, recordID string) error {
	_, err := n.run(ctx,
		`MERGE (s:Entity {scope: $scope, name: $src})
		 MERGE (d:Entity {scope: $scope, name: $dst})
		 MERGE (s)-[r:RELATES {scope: $scope, type: $rel, record_id: $record}]->(d)
		 MERGE (m:Record {scope: $scope, id: $record})
		 MERGE (m)-[:MENTIONS {scope: $scope}]->(s)
		 MERGE (m)-[:MENTIONS {scope: $scope}]->(d)`,
		map[string]any{
			"scope":  fingerprint.ScopeHash(scope),
			"src":    src,
			"dst":    dst,
			"rel":    rel,
			"record": recordID,
		})
	if err != nil {
		return fmt.Errorf("merging relation %s-[%s]->%s: %w", src, rel, dst, err)
	}
	return nil
}

// Mention links a record to an entity without a typed relation.
func (n *Neo4jStore) Mention(ctx context.Context, scope models.Scope, recordID, entity string) error {
	_, err := n.run(ctx,
		`MERGE (e:Entity {scope: $scope, name: $entity})
		 MERGE (m:Record {scope: $scope, id: $record})
		 MERGE (m)-[:MENTIONS {scope: $scope}]->(e)`,
		map[string]any{
			"scope":  fingerprint.ScopeHash(scope),
			"entity": entity,
			"record": recordID,
		})
	if err != nil {
		return fmt.Errorf("merging mention of %q by %s: %w", entity, recordID, err)
	}
	return nil
}

// DetachRecord deletes the record node, its mention edges, and the relation
// edges it produced. Entity nodes survive for other records.
func (n *Neo4jStore) DetachRecord(ctx context.Context, scope models.Scope, id string) error {
	_, err := n.run(ctx,
		`MATCH ()-[r:RELATES {scope: $scope, record_id: $record}]->() DELETE r`,
		map[string]any{"scope": fingerprint.ScopeHash(scope), "record": id})
	if err != nil {
		return fmt.Errorf("detaching relations of %s: %w", id, err)
	}
	_, err = n.run(ctx,
		`MATCH (m:Record {scope: $scope, id: $record}) DETACH DELETE m`,
		map[string]any{"scope": fingerprint.ScopeHash(scope), "record": id})
	if err != nil {
		return fmt.Errorf("detaching record %s: %w", id, err)
	}
	return nil
}

// Search scores records by how many query terms their mentioned entities
// match. Scores are normalized by the term count.
func (n *Neo4jStore) Search(ctx context.Context, scope models.Scope, terms []string, k int) ([]Hit, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	result, err := n.run(ctx,
		`MATCH (m:Record {scope: $scope})-[:MENTIONS]->(e:Entity {scope: $scope})
		 WHERE any(t IN $terms WHERE toLower(e.name) CONTAINS toLower(t))
		 WITH m, count(DISTINCT e) AS matched
		 RETURN m.id AS id, matched
		 ORDER BY matched DESC, id ASC
		 LIMIT $k`,
		map[string]any{"scope": fingerprint.ScopeHash(scope), "terms": terms, "k": k})
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _, _ := neo4j.GetRecordValue[string](rec, "id")
		matched, _, _ := neo4j.GetRecordValue[int64](rec, "matched")
		hits = append(hits, Hit{
			ID:    id,
			Score: float64(matched) / float64(len(terms)),
		})
	}
	return hits, nil
}

// Neighborhood walks up to maxHops entity hops from the named entity and
// collects every record mentioning an entity on the path.
func (n *Neo4jStore) Neighborhood(ctx context.Context, scope models.Scope, entity string, maxHops int) ([]string, error) {
	if maxHops < 1 {
		maxHops = 1
	}
	// Path length is bounded in the pattern itself; maxHops is small (<= 3).
	cypher := fmt.Sprintf(
		`MATCH (start:Entity {scope: $scope, name: $entity})
		 MATCH (start)-[:RELATES*0..%d {scope: $scope}]-(e:Entity {scope: $scope})
		 MATCH (m:Record {scope: $scope})-[:MENTIONS]->(e)
		 RETURN DISTINCT m.id AS id`, maxHops)
	result, err := n.run(ctx, cypher,
		map[string]any{"scope": fingerprint.ScopeHash(scope), "entity": entity})
	if err != nil {
		return nil, fmt.Errorf("graph neighborhood of %q: %w", entity, err)
	}

	ids := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _, _ := neo4j.GetRecordValue[string](rec, "id")
		ids = append(ids, id)
	}
	return ids, nil
}

// EntityStats collects mention counts, related entities, and relation types.
func (n *Neo4jStore) EntityStats(ctx context.Context, scope models.Scope, entity string) (*EntityStats, error) {
	result, err := n.run(ctx,
		`MATCH (e:Entity {scope: $scope, name: $entity})
		 OPTIONAL MATCH (m:Record {scope: $scope})-[:MENTIONS]->(e)
		 OPTIONAL MATCH (e)-[r:RELATES {scope: $scope}]-(other:Entity {scope: $scope})
		 RETURN count(DISTINCT m) AS mentions,
		        collect(DISTINCT other.name) AS related,
		        collect(DISTINCT r.type) AS types`,
		map[string]any{"scope": fingerprint.ScopeHash(scope), "entity": entity})
	if err != nil {
		return nil, fmt.Errorf("entity stats for %q: %w", entity, err)
	}
	if len(result.Records) == 0 {
		return &EntityStats{Entity: entity}, nil
	}

	rec := result.Records[0]
	mentions, _, _ := neo4j.GetRecordValue[int64](rec, "mentions")
	related, _, _ := neo4j.GetRecordValue[[]any](rec, "related")
	types, _, _ := neo4j.GetRecordValue[[]any](rec, "types")

	stats := &EntityStats{Entity: entity, DirectMentions: int(mentions)}
	for _, r := range related {
		if s, ok := r.(string); ok && s != "" {
			stats.RelatedEntities = append(stats.RelatedEntities, s)
		}
	}
	for _, t := range types {
		if s, ok := t.(string); ok && s != "" {
			stats.RelationTypes = append(stats.RelationTypes, s)
		}
	}
	return stats, nil
}

// Close releases the driver.
func (n *Neo4jStore) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
