package metrics

import "github.com/hitoshi/healthmate/internal/model"

// resultLabel はエラーをメトリクスの結果ラベルに変換する。
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(model.KindOf(err))
}
