/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

type LoggingTestSuite struct {
	suite.Suite
	out   *bytes.Buffer
	level logrus.Level
}

func (s *LoggingTestSuite) SetupTest() {
	s.out = &bytes.Buffer{}
	s.level = base.GetLevel()
	SetOutput(s.out)
}

func (s *LoggingTestSuite) TearDownTest() {
	SetOutput(nil)
	base.SetLevel(s.level)
}

func (s *LoggingTestSuite) TestLevelFiltering() {
	SetLogLevel(LevelWarn)
	l := New("test")
	l.Infof("this is infof %s", "hidden")
	s.Require().Empty(s.out.String())

	l.Warnf("this is warnf %s", "shown")
	s.Require().Contains(s.out.String(), "this is warnf shown")
	s.Require().Contains(s.out.String(), "component=test")
}

func (s *LoggingTestSuite) TestNoPrint() {
	SetLogLevel(LevelNoPrint)
	New("test").Errorf("error message")
	s.Require().Empty(s.out.String())
}

func (s *LoggingTestSuite) TestOutOfRangeIgnored() {
	SetLogLevel(LevelDebug)
	SetLogLevel(42)
	s.Require().Equal(logrus.DebugLevel, base.GetLevel())
}

func (s *LoggingTestSuite) TestLevelName() {
	s.Require().NoError(SetLevelName("trace"))
	s.Require().Equal(logrus.TraceLevel, base.GetLevel())
	s.Require().Error(SetLevelName("loud"))
}

func (s *LoggingTestSuite) TestWith() {
	SetLogLevel(LevelTrace)
	New("gralloc").With("handle", 7).Tracef("trace message")
	s.Require().Contains(s.out.String(), "handle=7")
}

func TestLoggingTestSuite(t *testing.T) {
	suite.Run(t, new(LoggingTestSuite))
}
