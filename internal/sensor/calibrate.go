package sensor

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"growgate/internal/pkg"
)

// CalEnv 是标定表达式的执行环境，value 为原始读数
type CalEnv struct {
	Value float64 `expr:"value"`
}

// compileCalibrations 预编译配置中每个角色的标定表达式。
// 表达式形如 "value * 0.1 - 2.5"，用于廉价传感器的线性修正或单位换算。
func compileCalibrations(table map[string]string) (map[pkg.Role]*vm.Program, error) {
	programs := make(map[pkg.Role]*vm.Program, len(table))
	for role, src := range table {
		program, err := expr.Compile(src, expr.Env(CalEnv{}), expr.AsFloat64())
		if err != nil {
			return nil, fmt.Errorf("编译标定表达式失败 role=%s: %w", role, err)
		}
		programs[pkg.Role(role)] = program
	}
	return programs, nil
}

// runCalibration 执行单条标定表达式
func runCalibration(program *vm.Program, value float64) (float64, error) {
	out, err := expr.Run(program, CalEnv{Value: value})
	if err != nil {
		return 0, fmt.Errorf("执行标定表达式失败: %w", err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("标定表达式返回了非数值结果: %T", out)
	}
	return v, nil
}
