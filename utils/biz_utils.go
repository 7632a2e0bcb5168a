package utils

import (
	"fmt"
	"time"

	"github.com/banbox/banexg/log"
	"github.com/sasha-s/go-deadlock"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

type PrgCB = func(done int, total int)
type FnTaskPrg = func(task string, rate float64)

type PrgBar struct {
	bar      *progressbar.ProgressBar
	m        *deadlock.Mutex
	title    string
	DoneNum  int
	TotalNum int
	PrgCbs   []PrgCB
}

type StagedPrg struct {
	taskMap      map[string]*PrgTask
	tasks        []string
	lock         deadlock.Mutex
	triggers     map[string]FnTaskPrg
	active       int     // index for tasks
	minIntvMS    int64   // default 100
	lastNotifyMS int64   // 13 digit timestamp
	Progress     float64 // [0,1]
}

type PrgTask struct {
	ID       int
	Name     string
	Progress float64
	Weight   float64
}

/*
NewPrgBar 创建进度条；show为false时只触发PrgCbs回调，不输出到控制台
*/
func NewPrgBar(totalNum int, title string, show bool) *PrgBar {
	var pBar *progressbar.ProgressBar
	if totalNum > 0 && show {
		pBar = progressbar.Default(int64(totalNum), title)
	}
	return &PrgBar{
		bar:      pBar,
		m:        &deadlock.Mutex{},
		TotalNum: totalNum,
		title:    title,
	}
}

func (p *PrgBar) Add(num int) {
	if p == nil || num <= 0 {
		return
	}
	p.m.Lock()
	defer p.m.Unlock()
	if p.DoneNum+num > p.TotalNum {
		log.Warn("pBar progress exceed", zap.String("title", p.title), zap.Int("max", p.TotalNum),
			zap.Int("cur", p.DoneNum+num))
		num = p.TotalNum - p.DoneNum
		if num <= 0 {
			return
		}
	}
	p.DoneNum += num
	for _, cb := range p.PrgCbs {
		cb(p.DoneNum, p.TotalNum)
	}
	if p.bar == nil {
		return
	}
	err_ := p.bar.Add(num)
	if err_ != nil {
		log.Error("add pBar fail", zap.String("title", p.title), zap.Error(err_))
	}
}

/*
Close 关闭控制台进度条；未完成的进度不补齐，取消时回调中可看到真实完成数量
*/
func (p *PrgBar) Close() {
	if p == nil || p.bar == nil {
		return
	}
	err := p.bar.Close()
	if err != nil {
		log.Error("close progressBar error", zap.Error(err))
	}
	p.bar = nil
}

/*
NewStagedPrg 创建多任务复合进度提示器
tasks: 子任务代码列表，按执行顺序，不可重复
weights: 各个子任务权重，>0，内部会自动归一化
*/
func NewStagedPrg(tasks []string, weights []float64) *StagedPrg {
	res := &StagedPrg{
		taskMap:   make(map[string]*PrgTask),
		tasks:     tasks,
		triggers:  make(map[string]FnTaskPrg),
		minIntvMS: 100,
	}
	if len(tasks) != len(weights) {
		panic(fmt.Sprintf("NewStagedPrg: tasks(%v) len differs from weights(%v)", len(tasks), len(weights)))
	}
	totalWei := floats.Sum(weights)
	for i, task := range tasks {
		wei := weights[i]
		if wei <= 0 {
			panic(fmt.Sprintf("NewStagedPrg: weight should > 0, task: %s ", task))
		}
		if _, ok := res.taskMap[task]; ok {
			panic(fmt.Sprintf("NewStagedPrg: duplicate task: %s ", task))
		}
		res.taskMap[task] = &PrgTask{
			ID:     i,
			Name:   task,
			Weight: wei / totalWei,
		}
	}
	return res
}

func (p *StagedPrg) SetMinInterval(intvMSecs int) {
	if intvMSecs >= 0 {
		p.minIntvMS = int64(intvMSecs)
	}
}

func (p *StagedPrg) AddTrigger(name string, cb FnTaskPrg) {
	p.lock.Lock()
	if _, ok := p.triggers[name]; !ok {
		p.triggers[name] = cb
	}
	p.lock.Unlock()
}

/*
StageCB 返回某个子任务的(done,total)回调，便于传给单个阶段
*/
func (p *StagedPrg) StageCB(task string) PrgCB {
	return func(done int, total int) {
		if total <= 0 {
			return
		}
		p.SetProgress(task, float64(done)/float64(total))
	}
}

func (p *StagedPrg) SetProgress(task string, progress float64) {
	if progress < 0 || progress > 1 {
		log.Warn("progress should be in [0,1]", zap.String("task", task), zap.Float64("prg", progress))
	}
	p.lock.Lock()
	t, ok := p.taskMap[task]
	if !ok {
		p.lock.Unlock()
		panic(fmt.Sprintf("task: %v not registered in StagedPrg", task))
	}
	if progress > t.Progress && p.active <= t.ID {
		p.active = t.ID
		t.Progress = progress
		totalPrg := float64(0)
		for i := 0; i < t.ID; i++ {
			totalPrg += p.taskMap[p.tasks[i]].Weight
		}
		p.Progress = totalPrg + t.Progress*t.Weight
		curTime := time.Now().UnixMilli()
		if curTime-p.lastNotifyMS >= p.minIntvMS || progress >= 1 {
			p.lastNotifyMS = curTime
			for _, cb := range p.triggers {
				cb(task, p.Progress)
			}
		}
	}
	p.lock.Unlock()
}
