package sqlstore

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create nodes table: one row per node, children ordered by position
			CREATE TABLE nodes (
				store VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				parent_store VARCHAR(255) NOT NULL DEFAULT '',
				parent_id VARCHAR(255) NOT NULL DEFAULT '',
				assoc_type VARCHAR(255) NOT NULL DEFAULT '',
				position BIGINT NOT NULL DEFAULT 0,
				properties TEXT NOT NULL,
				aspects TEXT NOT NULL,
				PRIMARY KEY (store, id)
			);

			CREATE INDEX idx_nodes_parent ON nodes(parent_store, parent_id, position);
			CREATE INDEX idx_nodes_node_type ON nodes(node_type);
		`,
	}
}
