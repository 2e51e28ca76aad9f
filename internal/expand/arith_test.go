package expand

import (
	"errors"
	"reflect"
	"testing"

	"posish/internal/state"
)

func TestArithBasic(t *testing.T) {
	st := state.New("posish", nil)
	e := New(st, nil, nil)

	cases := []struct {
		expr string
		want int64
	}{
		{"1 + 2", 3},
		{"2 * (3 + 4)", 14},
		{"7 - 10", -3},
		{"10 / 3", 3},
		{"10 % 3", 1},
		{"-5 + 2", -3},
		{"+5", 5},
		{"1 << 4", 16},
		{"256 >> 4", 16},
		{"0x1f", 31},
		{"010", 8},
		{"7 & 3", 3},
		{"5 | 2", 7},
		{"5 ^ 1", 4},
		{"~0", -1},
		{"!5", 0},
		{"!0", 1},
		{"5 > 3", 1},
		{"3 >= 4", 0},
		{"2 < 2", 0},
		{"2 <= 2", 1},
		{"3 == 3", 1},
		{"3 != 3", 0},
		{"1 && 0", 0},
		{"2 && 3", 1},
		{"1 || 0", 1},
		{"0 || 0", 0},
		{"1 ? 2 : 3", 2},
		{"0 ? 2 : 3", 3},
		{"1 ? 2 : 1/0", 2},
		{"0 ? 1/0 : 3", 3},
		{"0 && 1/0", 0},
		{"1 || 1/0", 1},
		{"1, 2, 3", 3},
		{"", 0},
		{"   ", 0},
	}
	for _, c := range cases {
		got, err := e.evalArith(c.expr)
		if err != nil {
			t.Errorf("求值 %q 出错: %v", c.expr, err)
			continue
		}
		if got != c.want {
			t.Errorf("%q = %d，期望 %d", c.expr, got, c.want)
		}
	}
}

func TestArithVariables(t *testing.T) {
	st := state.New("posish", nil)
	st.Set("X", "7")
	st.Set("REF", "X + 1")
	e := New(st, nil, nil)

	cases := []struct {
		expr string
		want int64
	}{
		{"X", 7},
		{"X * 2", 14},
		{"UNSETVAR", 0},
		{"UNSETVAR + 3", 3},
		{"REF", 8},
		{"REF * 2", 16},
	}
	for _, c := range cases {
		got, err := e.evalArith(c.expr)
		if err != nil {
			t.Errorf("求值 %q 出错: %v", c.expr, err)
			continue
		}
		if got != c.want {
			t.Errorf("%q = %d，期望 %d", c.expr, got, c.want)
		}
	}
}

func TestArithAssignment(t *testing.T) {
	st := state.New("posish", nil)
	e := New(st, nil, nil)

	got, err := e.evalArith("x = 5, x * 2")
	if err != nil {
		t.Fatalf("求值出错: %v", err)
	}
	if got != 10 {
		t.Fatalf("逗号表达式取末项: %d", got)
	}
	if v, _ := st.Get("x"); v != "5" {
		t.Fatalf("算术赋值应写回变量: %q", v)
	}

	st.Set("y", "4")
	if got, err = e.evalArith("y += 3"); err != nil || got != 7 {
		t.Fatalf("复合赋值结果错误: %d %v", got, err)
	}
	if v, _ := st.Get("y"); v != "7" {
		t.Fatalf("复合赋值应写回变量: %q", v)
	}

	st.Set("z", "1")
	if got, err = e.evalArith("z <<= 4"); err != nil || got != 16 {
		t.Fatalf("移位赋值结果错误: %d %v", got, err)
	}

	if got, err = e.evalArith("0 ? a = 9 : 2"); err != nil || got != 2 {
		t.Fatalf("短路分支求值错误: %d %v", got, err)
	}
	if _, ok := st.Get("a"); ok {
		t.Fatalf("未选中的分支不应产生赋值")
	}
}

func TestArithErrors(t *testing.T) {
	st := state.New("posish", nil)
	st.Set("LOOP", "LOOP")
	e := New(st, nil, nil)

	for _, expr := range []string{"1/0", "5 % 0", "2 +", "1 2", "(1", "1 ? 2", "@", "0x"} {
		_, err := e.evalArith(expr)
		var xe *ExpandError
		if !errors.As(err, &xe) || xe.Kind != ErrArith {
			t.Errorf("%q 应报算术错误，得到 %v", expr, err)
		}
	}

	_, err := e.evalArith("LOOP")
	var xe *ExpandError
	if !errors.As(err, &xe) {
		t.Fatalf("自引用变量应报递归错误: %v", err)
	}
}

func TestArithInWord(t *testing.T) {
	st := state.New("posish", nil)
	st.Set("X", "4")
	e := New(st, nil, nil)

	if got := mustFields(t, e, "$((2+3))"); !reflect.DeepEqual(got, []string{"5"}) {
		t.Errorf("$((2+3)) 展开错误: %v", got)
	}
	if got := mustFields(t, e, "$(($X + 1))"); !reflect.DeepEqual(got, []string{"5"}) {
		t.Errorf("算术内的 $X 应先展开: %v", got)
	}
	if got := mustFields(t, e, "$((X + 1))"); !reflect.DeepEqual(got, []string{"5"}) {
		t.Errorf("算术内的裸变量名应取值: %v", got)
	}
	if got := mustFields(t, e, "n$((1+1))"); !reflect.DeepEqual(got, []string{"n2"}) {
		t.Errorf("算术结果应与相邻文本拼接: %v", got)
	}
}

func TestArithOverflowWraps(t *testing.T) {
	e := New(state.New("posish", nil), nil, nil)
	got, err := e.evalArith("9223372036854775807 + 1")
	if err != nil {
		t.Fatalf("求值出错: %v", err)
	}
	if got != -9223372036854775808 {
		t.Fatalf("加法溢出应按补码回绕: %d", got)
	}
}
