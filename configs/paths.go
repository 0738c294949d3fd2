package configs

// Configs is the directory holding the YAML configuration
const Configs = "configs/"
const DefaultConfigFile = "beamfl.yaml"

// DataDir the per-cell datasets, one file per FL client
const DataDir = "data/cells/"
const CellFormat = ".npz"

var Cells = []string{"cell1", "cell2", "cell3", "cell4"}

// Models the trained global model
const Models = "models/"
const GlobalModel = "global_model.json.xz"

// History the SQLite round history
const History = "history/"
const HistoryDB = "runs.db"
