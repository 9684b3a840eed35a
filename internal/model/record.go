package model

// Automation は「Automatizaciones」シートの1行を正規化したもの。
// VA系の値はパーセント表記（0-100）に揃えてある。
type Automation struct {
	Aplicativo   string  `json:"aplicativo"`
	Aplicacion   string  `json:"aplicacion"`
	Proceso      string  `json:"proceso"`
	Detalle      string  `json:"detalle"`
	Compania     string  `json:"compania"`
	VAInicial    float64 `json:"vaInicial"`
	VAFinal      float64 `json:"vaFinal"`
	IncrementoVA float64 `json:"incrementoVA"`
	Fecha        string  `json:"fecha"`
	MesAsignado  string  `json:"mesAsignado"`
}

// Process は「Procesos」（変更履歴）シートの1行を正規化したもの。
type Process struct {
	Codigo        string `json:"codigo"`
	Documento     string `json:"documento"`
	Dueno         string `json:"dueno"`
	Detalle       string `json:"detalle"`
	Compania      string `json:"compania"`
	Tipo          string `json:"tipo"`
	Fecha         string `json:"fecha"`
	ValorAgregado string `json:"valor_agregado"`
	URLProceso    string `json:"url_proceso"`
}

// ImageLinks は月ごとの付加価値レポート画像のURL。
type ImageLinks struct {
	SAS string `json:"sas"`
	CF  string `json:"cf"`
}

// Dataset はダッシュボード表示に必要な全データ。
// 個別リソースの取得失敗は空コレクションとして表現され、
// Success=false になるのはディスパッチ自体が失敗した場合のみ。
type Dataset struct {
	Automations []Automation          `json:"automatizaciones"`
	Processes   []Process             `json:"procesos"`
	ImageLinks  map[string]ImageLinks `json:"valorAgregado"`
	Success     bool                  `json:"success"`
	Error       string                `json:"error,omitempty"`
}

// EmptyDataset は全コレクションが空のDatasetを返す。
func EmptyDataset() Dataset {
	return Dataset{
		Automations: []Automation{},
		Processes:   []Process{},
		ImageLinks:  map[string]ImageLinks{},
	}
}
