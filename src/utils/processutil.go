package utils

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"

	"XQNotifier/src/storage"
)

// StateSheet 导出报表的工作表名称
const StateSheet = "监控状态"

// 报表列名
const (
	ColFile         = "文件"
	ColPath         = "路径"
	ColLastModified = "最后修改时间"
	ColBaseline     = "启动时已存在"
	ColLines        = "行数"
	ColLastLine     = "最后一行"
)

// StateFrame 把 MonitorState 转为按路径排序的 DataFrame
func StateFrame(state storage.MonitorState) dataframe.DataFrame {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := len(keys)
	names := make([]string, 0, n)
	modified := make([]string, 0, n)
	baseline := make([]bool, 0, n)
	lines := make([]int, 0, n)
	lastLine := make([]string, 0, n)

	for _, k := range keys {
		rec := state[k]
		names = append(names, filepath.Base(k))
		modified = append(modified, rec.LastModified.Format("2006-01-02 15:04:05"))
		baseline = append(baseline, rec.Baseline)
		lines = append(lines, countLines(rec.LastContent))
		lastLine = append(lastLine, lastLineOf(rec.LastContent))
	}

	return dataframe.New(
		series.New(names, series.String, ColFile),
		series.New(keys, series.String, ColPath),
		series.New(modified, series.String, ColLastModified),
		series.New(baseline, series.Bool, ColBaseline),
		series.New(lines, series.Int, ColLines),
		series.New(lastLine, series.String, ColLastLine),
	)
}

// SaveToExcel 将DataFrame保存到Excel文件的指定工作表
func SaveToExcel(df dataframe.DataFrame, filePath, sheetName string) error {
	if df.Err != nil {
		return fmt.Errorf("数据无效: %w", df.Err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheetName == "" {
		sheetName = "Sheet1"
	}
	if sheetName != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheetName); err != nil {
			return fmt.Errorf("设置工作表名称失败: %w", err)
		}
	}

	// 写入列名
	colNames := df.Names()
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, name)
	}

	// 写入数据
	for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
		for colIdx, colName := range colNames {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			val := df.Col(colName).Val(rowIdx)
			f.SetCellValue(sheetName, cell, val)
		}
	}

	// 保存文件
	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

// ExportState 导出状态报表
func ExportState(state storage.MonitorState, filePath string) error {
	return SaveToExcel(StateFrame(state), filePath, StateSheet)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func lastLineOf(s string) string {
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
