// Copyright 2025 the ftstream Authors.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ftdigo/ftstream"
	"github.com/ftdigo/ftstream/seqcheck"
)

type tickMsg struct{}
type stopMsg struct{}

type uiModel struct {
	viewFn func() string
	view   string
}

func (m uiModel) Init() tea.Cmd {
	return nil
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case tickMsg:
		m.view = m.viewFn()
		return m, nil
	case stopMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m uiModel) View() string {
	return m.view
}

// runUI renders view on a ticker until ctx is done or the returned stop
// function is called.
func runUI(ctx context.Context, view func() string) func() {
	program := tea.NewProgram(uiModel{viewFn: view, view: view()})
	go func() {
		_, _ = program.Run()
	}()
	ticker := time.NewTicker(250 * time.Millisecond)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				program.Send(stopMsg{})
				return
			case <-stop:
				program.Send(stopMsg{})
				return
			case <-ticker.C:
				program.Send(tickMsg{})
			}
		}
	}()
	return func() {
		close(stop)
		ticker.Stop()
		program.Send(tickMsg{})
		program.Send(stopMsg{})
	}
}

func renderView(p ftstream.Progress, sum *seqcheck.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "captured %8.2f MiB in %s\n",
		float64(p.Current.TotalBytes)/(1024*1024), formatElapsed(p.TotalTime))
	if p.HasRates {
		fmt.Fprintf(&b, "rate     %8.2f MiB/s overall, %8.2f MiB/s now\n",
			p.TotalRate/(1024*1024), p.CurrentRate/(1024*1024))
	} else {
		fmt.Fprintf(&b, "rate     measuring...\n")
	}
	if sum != nil {
		fmt.Fprintf(&b, "check    %s\n", sum.String())
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatElapsed(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
