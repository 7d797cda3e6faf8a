package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chatflow-gateway/internal/automation"
	"chatflow-gateway/internal/models"
)

// LoadGraph rebuilds the editor graph of a bot from flow_nodes/flow_edges.
func (s *Store) LoadGraph(ctx context.Context, botID string) (automation.FlowGraphData, error) {
	var flow models.Flow
	err := s.db.WithContext(ctx).
		Preload("Nodes", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Edges", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&flow, "bot_id = ?", botID).Error
	if err != nil {
		return automation.FlowGraphData{}, notFound(err, "flow of bot "+botID)
	}
	return graphFromFlow(ctx, flow), nil
}

func graphFromFlow(ctx context.Context, flow models.Flow) automation.FlowGraphData {
	graph := automation.FlowGraphData{
		Nodes: make([]automation.ReactFlowNode, 0, len(flow.Nodes)),
		Edges: make([]automation.ReactFlowEdge, 0, len(flow.Edges)),
	}
	for _, n := range flow.Nodes {
		var data automation.ReactFlowNodeData
		if n.Data != "" {
			if err := json.Unmarshal([]byte(n.Data), &data); err != nil {
				slog.WarnContext(ctx, "skipping node with invalid data", "flow_id", flow.ID, "node_id", n.NodeID, "error", err)
				continue
			}
		}
		graph.Nodes = append(graph.Nodes, automation.ReactFlowNode{
			ID:       n.NodeID,
			Type:     automation.NodeKind(n.Type),
			Position: map[string]float64{"x": n.PositionX, "y": n.PositionY},
			Data:     data,
		})
	}
	for _, e := range flow.Edges {
		graph.Edges = append(graph.Edges, automation.ReactFlowEdge{
			ID:           e.EdgeID,
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
		})
	}
	return graph
}

// SaveGraph replaces the stored graph of a bot in one transaction.
func (s *Store) SaveGraph(ctx context.Context, botID, name string, graph automation.FlowGraphData) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var flow models.Flow
		created := false
		err := tx.Where("bot_id = ?", botID).First(&flow).Error
		switch {
		case err == nil:
		case isNotFound(err):
			flow = models.Flow{ID: uuid.NewString(), BotID: botID}
			created = true
		default:
			return fmt.Errorf("load flow: %w", err)
		}
		if name != "" {
			flow.Name = name
		}
		now := s.now().UTC()
		flow.Status = "published"
		flow.PublishedAt = &now
		if created {
			err = tx.Omit("Nodes", "Edges").Create(&flow).Error
		} else {
			err = tx.Omit("Nodes", "Edges").Save(&flow).Error
		}
		if err != nil {
			return fmt.Errorf("save flow: %w", err)
		}

		if err := tx.Where("flow_id = ?", flow.ID).Delete(&models.FlowNode{}).Error; err != nil {
			return fmt.Errorf("clear nodes: %w", err)
		}
		if err := tx.Where("flow_id = ?", flow.ID).Delete(&models.FlowEdge{}).Error; err != nil {
			return fmt.Errorf("clear edges: %w", err)
		}

		nodes := make([]models.FlowNode, 0, len(graph.Nodes))
		for _, n := range graph.Nodes {
			data, err := json.Marshal(n.Data)
			if err != nil {
				return fmt.Errorf("encode node %s: %w", n.ID, err)
			}
			nodes = append(nodes, models.FlowNode{
				FlowID:    flow.ID,
				NodeID:    n.ID,
				Type:      string(n.Type),
				PositionX: n.Position["x"],
				PositionY: n.Position["y"],
				Data:      string(data),
			})
		}
		if len(nodes) > 0 {
			if err := tx.Create(&nodes).Error; err != nil {
				return fmt.Errorf("insert nodes: %w", err)
			}
		}

		edges := make([]models.FlowEdge, 0, len(graph.Edges))
		for _, e := range graph.Edges {
			edges = append(edges, models.FlowEdge{
				FlowID:       flow.ID,
				EdgeID:       e.ID,
				Source:       e.Source,
				Target:       e.Target,
				SourceHandle: e.SourceHandle,
			})
		}
		if len(edges) > 0 {
			if err := tx.Create(&edges).Error; err != nil {
				return fmt.Errorf("insert edges: %w", err)
			}
		}
		return nil
	})
}

// FlowBots lists the ids of bots that have a stored flow.
func (s *Store) FlowBots(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Flow{}).Order("bot_id ASC").Pluck("bot_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return ids, nil
}

var _ automation.GraphSource = (*Store)(nil)
